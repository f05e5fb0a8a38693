package fetcher

import (
	"context"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	Timeout  time.Duration
}

// ftpConn is the subset of the FTP connection the fetcher uses, split out so
// tests can substitute a fake server.
type ftpConn interface {
	List(path string) ([]*ftp.Entry, error)
	Retr(path string) (io.ReadCloser, error)
	Quit() error
}

// serverConn adapts *ftp.ServerConn to ftpConn.
type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Retr(path string) (io.ReadCloser, error) {
	resp, err := c.ServerConn.Retr(path)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

type dialFunc func(ctx context.Context) (ftpConn, error)

// FTPFetcher downloads settlement files over FTP.
type FTPFetcher struct {
	opts FTPOptions
	dial dialFunc
}

// NewFTPFetcher creates a new FTPFetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Port == 0 {
		opts.Port = 21
	}

	f := &FTPFetcher{opts: opts}
	f.dial = f.dialServer
	return f
}

func (f *FTPFetcher) dialServer(ctx context.Context) (ftpConn, error) {
	addr := net.JoinHostPort(f.opts.Host, strconv.Itoa(f.opts.Port))

	zap.L().Debug("ftp: connecting", zap.String("addr", addr))

	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "ftp dial")
	}

	user, pass := f.opts.User, f.opts.Password
	if user == "" {
		user, pass = "anonymous", "anonymous@"
	}
	if err := conn.Login(user, pass); err != nil {
		conn.Quit()
		return nil, eris.Wrap(err, "ftp login")
	}

	return serverConn{conn}, nil
}

// List returns remote file names under remoteDir matching the glob pattern,
// sorted by name.
func (f *FTPFetcher) List(ctx context.Context, remoteDir, pattern string) ([]string, error) {
	conn, err := f.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	return listMatching(conn, remoteDir, pattern)
}

func listMatching(conn ftpConn, remoteDir, pattern string) ([]string, error) {
	entries, err := conn.List(remoteDir)
	if err != nil {
		return nil, eris.Wrap(err, "ftp list")
	}

	var names []string
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile {
			continue
		}
		ok, err := path.Match(pattern, e.Name)
		if err != nil {
			return nil, eris.Wrapf(err, "bad pattern %q", pattern)
		}
		if ok {
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// ftpConnReader wraps an FTP response and connection so that closing the reader
// also closes the FTP response and disconnects from the server.
type ftpConnReader struct {
	resp io.ReadCloser
	conn ftpConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "quit ftp connection")
	}
	return nil
}

// Download retrieves a single remote file. The caller must close the returned
// ReadCloser to release the FTP connection.
func (f *FTPFetcher) Download(ctx context.Context, remotePath string) (io.ReadCloser, error) {
	conn, err := f.dial(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := conn.Retr(remotePath)
	if err != nil {
		conn.Quit()
		return nil, eris.Wrapf(err, "ftp retrieve %s", remotePath)
	}

	return &ftpConnReader{resp: resp, conn: conn}, nil
}

// Sync downloads remote files matching the pattern into destDir over a single
// connection, skipping names that already exist locally. Files are written to
// a .part name first and renamed once complete, so a dropped connection never
// leaves a truncated file that looks finished.
func (f *FTPFetcher) Sync(ctx context.Context, remoteDir, pattern, destDir string) ([]string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, eris.Wrap(err, "create dest dir")
	}

	conn, err := f.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	names, err := listMatching(conn, remoteDir, pattern)
	if err != nil {
		return nil, err
	}

	var downloaded []string
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return downloaded, err
		}

		dest := filepath.Join(destDir, name)
		if _, err := os.Stat(dest); err == nil {
			zap.L().Debug("ftp: skipping existing file", zap.String("file", name))
			continue
		}

		if err := retrToFile(conn, path.Join(remoteDir, name), dest); err != nil {
			return downloaded, err
		}

		downloaded = append(downloaded, name)
		zap.L().Info("ftp: downloaded file", zap.String("file", name))
	}

	return downloaded, nil
}

func retrToFile(conn ftpConn, remotePath, dest string) error {
	resp, err := conn.Retr(remotePath)
	if err != nil {
		return eris.Wrapf(err, "ftp retrieve %s", remotePath)
	}
	defer resp.Close()

	part := dest + ".part"
	file, err := os.Create(part)
	if err != nil {
		return eris.Wrap(err, "create file")
	}

	if _, err := io.Copy(file, resp); err != nil {
		file.Close()
		os.Remove(part)
		return eris.Wrapf(err, "write %s", dest)
	}
	if err := file.Close(); err != nil {
		os.Remove(part)
		return eris.Wrap(err, "close file")
	}

	if err := os.Rename(part, dest); err != nil {
		return eris.Wrap(err, "finalize file")
	}
	return nil
}
