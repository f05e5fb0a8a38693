// Package fetcher retrieves settlement files from the bank's FTP host into
// the local inbox.
package fetcher

import (
	"context"
	"io"
)

// Fetcher defines the interface for retrieving remote settlement files.
type Fetcher interface {
	// List returns the names of remote files matching the pattern.
	List(ctx context.Context, remoteDir, pattern string) ([]string, error)

	// Download fetches a remote file and returns the response body.
	Download(ctx context.Context, remotePath string) (io.ReadCloser, error)

	// Sync downloads remote files matching the pattern into destDir,
	// skipping names already present locally. Returns the downloaded names.
	Sync(ctx context.Context, remoteDir, pattern, destDir string) ([]string, error)
}
