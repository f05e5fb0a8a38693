// Package mdas provides a client for the MDAS ingestion server's uploader API.
package mdas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/mdas-ops/tddf-cli/internal/resilience"
)

// DefaultChunkSize is the payload size above which uploads switch to
// chunked transfer, and the size of each chunk.
const DefaultChunkSize = 25 * 1024 * 1024

// Client defines the uploader API operations.
type Client interface {
	// Ping tests connectivity and authentication.
	Ping(ctx context.Context) (*PingResponse, error)
	// BatchStatus returns the server's upload queue status.
	BatchStatus(ctx context.Context) (*BatchStatusResponse, error)
	// StartUpload opens an upload session and returns its ID.
	StartUpload(ctx context.Context, filename string, size int64) (string, error)
	// Upload sends the whole file body in a single request.
	Upload(ctx context.Context, uploadID, filename string, body io.Reader) error
	// UploadChunk sends one chunk of a chunked transfer.
	UploadChunk(ctx context.Context, uploadID string, chunk []byte, index, total int) error
	// UploadFile sends a file, chunking automatically when it exceeds the
	// configured chunk size.
	UploadFile(ctx context.Context, filename string, size int64, body io.Reader) (string, error)
}

// PingResponse is the server's connectivity check reply.
type PingResponse struct {
	Status      string `json:"status"`
	Environment string `json:"environment"`
	Message     string `json:"message"`
}

// BatchStatusResponse reports queue depth and whether the server wants
// callers to hold off.
type BatchStatusResponse struct {
	Queue         QueueMetrics `json:"queue"`
	MaxConcurrent int          `json:"maxConcurrent"`
	IsBusy        bool         `json:"isBusy"`
}

// QueueMetrics mirrors the server's per-state upload counts.
type QueueMetrics struct {
	Active    int `json:"active"`
	Waiting   int `json:"waiting"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type startRequest struct {
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
}

type startResponse struct {
	ID string `json:"id"`
}

// Option configures the uploader client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithChunkSize overrides the chunking threshold and chunk size.
func WithChunkSize(n int64) Option {
	return func(c *httpClient) {
		c.chunkSize = n
	}
}

// WithRateLimit sets the request rate limit in requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

type httpClient struct {
	baseURL   string
	apiKey    string
	chunkSize int64
	limiter   *rate.Limiter
	http      *http.Client
}

// NewClient creates a new uploader API client.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		chunkSize: DefaultChunkSize,
		limiter:   rate.NewLimiter(rate.Limit(5), 1),
		http: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do executes a request with the API key header and rate limiting applied.
// Transient failures (network errors, retryable HTTP statuses) are tagged
// so the caller's retry policy can distinguish them.
func (c *httpClient) do(ctx context.Context, req *http.Request) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, eris.Wrap(err, "mdas: rate limiter")
	}

	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if resilience.IsTransient(err) {
			return nil, 0, resilience.NewTransientError(err, 0)
		}
		return nil, 0, eris.Wrap(err, "mdas: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, eris.Wrap(err, "mdas: read response body")
	}

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		err := eris.Errorf("mdas: status %d: %s", resp.StatusCode, string(body))
		return body, resp.StatusCode, resilience.NewTransientError(err, resp.StatusCode)
	}

	return body, resp.StatusCode, nil
}

func (c *httpClient) Ping(ctx context.Context) (*PingResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/uploader/ping", nil)
	if err != nil {
		return nil, eris.Wrap(err, "mdas: create ping request")
	}

	body, statusCode, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if statusCode == http.StatusUnauthorized {
		return nil, eris.New("mdas: authentication failed, check API key")
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("mdas: ping unexpected status %d: %s", statusCode, string(body))
	}

	var result PingResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "mdas: unmarshal ping response")
	}
	return &result, nil
}

func (c *httpClient) BatchStatus(ctx context.Context) (*BatchStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/uploader/batch-status", nil)
	if err != nil {
		return nil, eris.Wrap(err, "mdas: create batch-status request")
	}

	body, statusCode, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("mdas: batch-status unexpected status %d: %s", statusCode, string(body))
	}

	var result BatchStatusResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "mdas: unmarshal batch-status response")
	}
	return &result, nil
}

func (c *httpClient) StartUpload(ctx context.Context, filename string, size int64) (string, error) {
	payload, err := json.Marshal(startRequest{FileName: filename, FileSize: size})
	if err != nil {
		return "", eris.Wrap(err, "mdas: marshal start request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/uploader/start", bytes.NewReader(payload))
	if err != nil {
		return "", eris.Wrap(err, "mdas: create start request")
	}
	req.Header.Set("Content-Type", "application/json")

	body, statusCode, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}
	if statusCode != http.StatusOK && statusCode != http.StatusCreated {
		return "", eris.Errorf("mdas: start unexpected status %d: %s", statusCode, string(body))
	}

	var result startResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", eris.Wrap(err, "mdas: unmarshal start response")
	}
	if result.ID == "" {
		return "", eris.New("mdas: start response missing upload id")
	}
	return result.ID, nil
}

func (c *httpClient) Upload(ctx context.Context, uploadID, filename string, body io.Reader) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return eris.Wrap(err, "mdas: create form file")
	}
	if _, err := io.Copy(part, body); err != nil {
		return eris.Wrap(err, "mdas: copy file content")
	}
	if err := mw.Close(); err != nil {
		return eris.Wrap(err, "mdas: close multipart writer")
	}

	url := fmt.Sprintf("%s/api/uploader/%s/upload", c.baseURL, uploadID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return eris.Wrap(err, "mdas: create upload request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	respBody, statusCode, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if statusCode != http.StatusOK {
		return eris.Errorf("mdas: upload unexpected status %d: %s", statusCode, string(respBody))
	}
	return nil
}

func (c *httpClient) UploadChunk(ctx context.Context, uploadID string, chunk []byte, index, total int) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("chunk", "chunk")
	if err != nil {
		return eris.Wrap(err, "mdas: create chunk form file")
	}
	if _, err := part.Write(chunk); err != nil {
		return eris.Wrap(err, "mdas: write chunk content")
	}
	if err := mw.WriteField("chunkIndex", strconv.Itoa(index)); err != nil {
		return eris.Wrap(err, "mdas: write chunkIndex field")
	}
	if err := mw.WriteField("totalChunks", strconv.Itoa(total)); err != nil {
		return eris.Wrap(err, "mdas: write totalChunks field")
	}
	if err := mw.Close(); err != nil {
		return eris.Wrap(err, "mdas: close chunk multipart writer")
	}

	url := fmt.Sprintf("%s/api/uploader/%s/upload-chunk", c.baseURL, uploadID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return eris.Wrap(err, "mdas: create chunk request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	respBody, statusCode, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if statusCode != http.StatusOK {
		return eris.Errorf("mdas: chunk %d/%d unexpected status %d: %s",
			index+1, total, statusCode, string(respBody))
	}
	return nil
}

func (c *httpClient) UploadFile(ctx context.Context, filename string, size int64, body io.Reader) (string, error) {
	uploadID, err := c.StartUpload(ctx, filename, size)
	if err != nil {
		return "", eris.Wrapf(err, "mdas: start session for %s", filename)
	}

	if size <= c.chunkSize {
		if err := c.Upload(ctx, uploadID, filename, body); err != nil {
			return uploadID, err
		}
		return uploadID, nil
	}

	totalChunks := int((size + c.chunkSize - 1) / c.chunkSize)
	chunk := make([]byte, c.chunkSize)
	for i := 0; i < totalChunks; i++ {
		n, err := io.ReadFull(body, chunk)
		if err != nil && err != io.ErrUnexpectedEOF {
			return uploadID, eris.Wrapf(err, "mdas: read chunk %d/%d", i+1, totalChunks)
		}
		if err := c.UploadChunk(ctx, uploadID, chunk[:n], i, totalChunks); err != nil {
			return uploadID, err
		}
	}
	return uploadID, nil
}
