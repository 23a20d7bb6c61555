// Package client talks to a running eclipse server over its REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/eclipse/internal/api"
	"github.com/kalambet/eclipse/internal/history"
	"github.com/kalambet/eclipse/internal/scan"
	"github.com/kalambet/eclipse/internal/upload"
)

// DefaultTimeout bounds every request, uploads included.
const DefaultTimeout = 30 * time.Second

// APIError is a non-2xx response decoded from either error envelope.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
	Rule       string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client is an eclipse API client. baseURL points at the /api prefix,
// e.g. http://localhost:5000/api.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a Client. A non-positive timeout uses DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewWithHTTPClient returns a Client using hc, e.g. an httptest server client.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is eclipse running? (%w)", err)
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, "", nil)
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(data))
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.get(ctx, "/v1/health")
	if err != nil {
		return err
	}
	var body map[string]string
	return decodeJSON(resp, &body)
}

// ScanOptions carries the optional form fields of a scan upload.
type ScanOptions struct {
	UserID   string
	Metadata json.RawMessage
}

// Scan uploads f for a one-shot mock scan. The server does not record it.
func (c *Client) Scan(ctx context.Context, f upload.File, opts ScanOptions) (api.ScanResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := writeFilePart(mw, "image", f); err != nil {
		return api.ScanResponse{}, err
	}
	if opts.UserID != "" {
		mw.WriteField("userId", opts.UserID)
	}
	if len(opts.Metadata) > 0 {
		mw.WriteField("metadata", string(opts.Metadata))
	}
	if err := mw.Close(); err != nil {
		return api.ScanResponse{}, fmt.Errorf("closing multipart body: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/scan", mw.FormDataContentType(), &buf)
	if err != nil {
		return api.ScanResponse{}, err
	}
	var out api.ScanResponse
	if err := decodeJSON(resp, &out); err != nil {
		return api.ScanResponse{}, err
	}
	return out, nil
}

// SaveResult appends res to the server history with an optional preview.
func (c *Client) SaveResult(ctx context.Context, res scan.Result, preview string) (history.Entry, error) {
	resp, err := c.postJSON(ctx, "/v1/results/save", api.SaveRequest{Result: res, ImagePreview: preview})
	if err != nil {
		return history.Entry{}, err
	}
	var out struct {
		Success bool          `json:"success"`
		Data    history.Entry `json:"data"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return history.Entry{}, err
	}
	return out.Data, nil
}

// History lists saved results, newest first. limit <= 0 lists all.
func (c *Client) History(ctx context.Context, limit int) ([]history.Entry, error) {
	path := "/v1/results/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var out []history.Entry
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Export downloads the JSON export of a saved result and returns the
// server-suggested file name with the body.
func (c *Client) Export(ctx context.Context, scanID string) (string, []byte, error) {
	resp, err := c.get(ctx, "/v1/results/"+url.PathEscape(scanID)+"/export")
	if err != nil {
		return "", nil, err
	}
	data, err := readBody(resp)
	if err != nil {
		return "", nil, err
	}
	name := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		name = params["filename"]
	}
	if name == "" {
		name = scan.ExportFilename(time.Now())
	}
	return name, data, nil
}

// Report returns the plain-text report of a saved result.
func (c *Client) Report(ctx context.Context, scanID string) (string, error) {
	resp, err := c.get(ctx, "/v1/results/"+url.PathEscape(scanID)+"/report")
	if err != nil {
		return "", err
	}
	data, err := readBody(resp)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Specialists returns the directory URL the server redirects to.
func (c *Client) Specialists(ctx context.Context) (string, error) {
	noFollow := *c.httpClient
	noFollow.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/specialists", nil)
	if err != nil {
		return "", err
	}
	resp, err := noFollow.Do(req)
	if err != nil {
		return "", fmt.Errorf("server not reachable, is eclipse running? (%w)", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		return "", apiError(resp)
	}
	return resp.Header.Get("Location"), nil
}

// Documents lists the current document set.
func (c *Client) Documents(ctx context.Context) (api.DocumentsResponse, error) {
	resp, err := c.get(ctx, "/v1/documents")
	if err != nil {
		return api.DocumentsResponse{}, err
	}
	var out api.DocumentsResponse
	if err := decodeJSON(resp, &out); err != nil {
		return api.DocumentsResponse{}, err
	}
	return out, nil
}

// UploadDocuments replaces the document set with files.
func (c *Client) UploadDocuments(ctx context.Context, files []upload.File) (api.DocumentsResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		if err := writeFilePart(mw, "files", f); err != nil {
			return api.DocumentsResponse{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return api.DocumentsResponse{}, fmt.Errorf("closing multipart body: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/documents", mw.FormDataContentType(), &buf)
	if err != nil {
		return api.DocumentsResponse{}, err
	}
	var out api.DocumentsResponse
	if err := decodeJSON(resp, &out); err != nil {
		return api.DocumentsResponse{}, err
	}
	return out, nil
}

func writeFilePart(mw *multipart.Writer, field string, f upload.File) error {
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, f.Name))
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	hdr.Set("Content-Type", ct)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return fmt.Errorf("creating part for %s: %w", f.Name, err)
	}
	if _, err := part.Write(f.Data); err != nil {
		return fmt.Errorf("writing part for %s: %w", f.Name, err)
	}
	return nil
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, apiError(resp)
	}
	return io.ReadAll(resp.Body)
}

// apiError reads an error envelope from resp. Unparseable bodies become the
// message verbatim.
func apiError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
	}
	var env struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Rule    string `json:"rule"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		apiErr.Type = env.Error.Type
		apiErr.Message = env.Error.Message
		apiErr.Rule = env.Error.Rule
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// IsValidation reports whether err is a server-side validation rejection.
func IsValidation(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Type == "validation_error"
}
