// Package tapis implements filestore.Client against the Tapis (Agave v2)
// files and systems APIs.
//
// The client makes exactly one HTTP request per call. Retries belong to the
// dispatcher; the client only marks transient failures as retryable.
//
// Usage:
//
//	client, err := tapis.New(filestore.Config{
//	    BaseURL: "https://api.sd2e.org",
//	    Token:   token,
//	})
//	if err != nil { ... }
//	rc, err := client.Download(ctx, "data-sd2e-community", "/uploads/file.txt")
package tapis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/koustreak/bacanora/internal/errs"
	"github.com/koustreak/bacanora/internal/filestore"
	"github.com/koustreak/bacanora/internal/logger"
	"github.com/koustreak/bacanora/internal/storage"
)

// Client is a Tapis implementation of filestore.Client.
// It is safe for concurrent use by multiple goroutines.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
	username   string
	log        *logger.Logger
}

var _ filestore.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a Client for cfg.BaseURL.
func New(cfg filestore.Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "tapis: base URL is required")
	}
	parsed, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "tapis: invalid base URL "+cfg.BaseURL, err)
	}

	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		token:      cfg.Token,
		username:   cfg.Username,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Username returns the account the client acts as, if known.
func (c *Client) Username() string {
	return c.username
}

// envelope is the JSON wrapper of every Tapis response.
type envelope[T any] struct {
	Status  string  `json:"status"`
	Message *string `json:"message"`
	Version string  `json:"version"`
	Result  T       `json:"result"`
}

// --- filestore.Client implementation ---

func (c *Client) Upload(ctx context.Context, systemID, dir, name string, r io.Reader, size int64) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	// r belongs to the caller again once Upload returns, so the writer must
	// be finished with it by then.
	done := make(chan struct{})
	go func() {
		defer close(done)
		part, err := mw.CreateFormFile("fileToUpload", name)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.WriteField("fileName", name)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, c.filesURL("media", systemID, dir, nil), pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		<-done
		return mapError(ctx, err, "build upload request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.log.DebugWith("tapis upload", map[string]any{"system": systemID, "dir": dir, "name": name, "size": size})
	_, err = c.do(req, nil)
	_ = pr.Close()
	<-done
	if err != nil {
		return mapError(ctx, err, fmt.Sprintf("upload %s to %s", name, dir))
	}
	return nil
}

func (c *Client) Download(ctx context.Context, systemID, p string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.filesURL("media", systemID, p, nil), nil)
	if err != nil {
		return nil, mapError(ctx, err, "build download request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, mapError(ctx, err, "download "+p)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, mapError(ctx, newHTTPError(resp, body), "download "+p)
	}
	return resp.Body, nil
}

func (c *Client) List(ctx context.Context, systemID, p string, opts filestore.ListOptions) ([]filestore.FileInfo, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	req, err := c.newRequest(ctx, http.MethodGet, c.filesURL("listings", systemID, p, q), nil)
	if err != nil {
		return nil, mapError(ctx, err, "build list request")
	}
	var out envelope[[]filestore.FileInfo]
	if _, err := c.do(req, &out); err != nil {
		return nil, mapError(ctx, err, "list "+p)
	}
	if out.Result == nil {
		out.Result = []filestore.FileInfo{}
	}
	return out.Result, nil
}

func (c *Client) Delete(ctx context.Context, systemID, p string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, c.filesURL("media", systemID, p, nil), nil)
	if err != nil {
		return mapError(ctx, err, "build delete request")
	}
	if _, err := c.do(req, nil); err != nil {
		return mapError(ctx, err, "delete "+p)
	}
	return nil
}

func (c *Client) Manage(ctx context.Context, systemID, p string, op filestore.ManageOp) error {
	req, err := c.newJSONRequest(ctx, http.MethodPut, c.filesURL("media", systemID, p, nil), op)
	if err != nil {
		return mapError(ctx, err, "build manage request")
	}
	if _, err := c.do(req, nil); err != nil {
		return mapError(ctx, err, fmt.Sprintf("%s %s", op.Action, p))
	}
	return nil
}

func (c *Client) UpdatePermissions(ctx context.Context, systemID, p string, g filestore.Grant) error {
	req, err := c.newJSONRequest(ctx, http.MethodPost, c.filesURL("pems", systemID, p, nil), g)
	if err != nil {
		return mapError(ctx, err, "build permissions request")
	}
	if _, err := c.do(req, nil); err != nil {
		return mapError(ctx, err, fmt.Sprintf("grant %s %s on %s", g.Permission, g.Username, p))
	}
	return nil
}

func (c *Client) History(ctx context.Context, systemID, p string) ([]filestore.HistoryEvent, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.filesURL("history", systemID, p, nil), nil)
	if err != nil {
		return nil, mapError(ctx, err, "build history request")
	}
	var out envelope[[]filestore.HistoryEvent]
	if _, err := c.do(req, &out); err != nil {
		return nil, mapError(ctx, err, "history "+p)
	}
	return out.Result, nil
}

func (c *Client) System(ctx context.Context, systemID string) (*filestore.SystemInfo, error) {
	u := c.baseURL.JoinPath("systems", "v2", systemID)
	req, err := c.newRequest(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, mapError(ctx, err, "build system request")
	}
	var out envelope[filestore.SystemInfo]
	if _, err := c.do(req, &out); err != nil {
		return nil, mapError(ctx, err, "get system "+systemID)
	}
	return &out.Result, nil
}

// --- request plumbing ---

// filesURL builds /files/v2/{kind}/system/{systemID}/{path}.
func (c *Client) filesURL(kind, systemID, p string, q url.Values) string {
	segments := []string{"files", "v2", kind, "system", systemID}
	rel := storage.Normalize(p)
	if rel != "" {
		segments = append(segments, strings.Split(rel, "/")...)
	}
	u := c.baseURL.JoinPath(segments...)
	if rel == "" {
		// system root
		u.Path += "/"
	}
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, u string, payload any) (*http.Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, method, u, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do sends req and decodes a JSON body into out when out is non-nil.
func (c *Client) do(req *http.Request, out any) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode >= 400 {
		return resp, newHTTPError(resp, body)
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp, errs.Wrap(errs.ErrKindRemoteOperationFailed, "decode response", err)
		}
	}
	return resp, nil
}
