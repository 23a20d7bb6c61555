package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/eclipse/internal/api"
	"github.com/kalambet/eclipse/internal/documents"
	"github.com/kalambet/eclipse/internal/history"
	"github.com/kalambet/eclipse/internal/scan"
	"github.com/kalambet/eclipse/internal/upload"
)

var ctx = context.Background()

type recordedRequest struct {
	Method      string
	Path        string
	ContentType string
	Body        []byte
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.RequestURI(),
			ContentType: r.Header.Get("Content-Type"),
			Body:        body.Bytes(),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *Client {
	return NewWithHTTPClient(ts.server.URL+"/api", ts.server.Client())
}

// newLiveServer runs the real API handler.
func newLiveServer(t *testing.T) *Client {
	t.Helper()
	h := api.NewHandler(api.Deps{
		Validator: upload.NewValidator(upload.DefaultMaxSize),
		Scanner:   scan.NewEngine(),
		History:   history.NewStore(history.NewMemoryStorage()),
		Documents: &documents.List{},
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewWithHTTPClient(srv.URL+"/api", srv.Client())
}

func testPNG(t *testing.T) upload.File {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return upload.NewFile("lesion.png", "", buf.Bytes())
}

func TestNew_DefaultTimeout(t *testing.T) {
	c := New("http://localhost:5000/api/", 0)
	if c.httpClient.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", c.httpClient.Timeout, DefaultTimeout)
	}
	if c.baseURL != "http://localhost:5000/api" {
		t.Errorf("baseURL = %q, trailing slash not trimmed", c.baseURL)
	}
}

func TestScan_SendsMultipart(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/v1/scan": `{"success":true,"data":{"scanId":"SCAN-1-abc","riskLevel":"BAJO","confidence":90},"processingTime":12}`,
	})

	resp, err := ts.client().Scan(ctx, testPNG(t), ScanOptions{
		UserID:   "u-7",
		Metadata: json.RawMessage(`{"k":"v"}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Data.ScanID != "SCAN-1-abc" || resp.ProcessingTime != 12 {
		t.Errorf("resp = %+v", resp)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if !strings.HasPrefix(r.ContentType, "multipart/form-data") {
		t.Errorf("content type = %q", r.ContentType)
	}
	for _, want := range []string{`name="image"`, `filename="lesion.png"`, "Content-Type: image/png", "u-7", `{"k":"v"}`} {
		if !bytes.Contains(r.Body, []byte(want)) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		w.Write([]byte(`{"success":false,"error":{"message":"Formato no válido","type":"validation_error","rule":"type"}}`))
	}))
	defer ts.Close()

	c := NewWithHTTPClient(ts.URL+"/api", ts.Client())
	_, err := c.Scan(ctx, testPNG(t), ScanOptions{})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %T, want *APIError", err)
	}
	if apiErr.StatusCode != 400 || apiErr.Rule != "type" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if !IsValidation(err) {
		t.Error("IsValidation = false, want true")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("error = %q, want it to contain '400'", err.Error())
	}
}

func TestAPIError_PlainBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(502)
		w.Write([]byte("bad gateway\n"))
	}))
	defer ts.Close()

	err := NewWithHTTPClient(ts.URL+"/api", ts.Client()).Health(ctx)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "bad gateway" {
		t.Errorf("err = %v", err)
	}
}

func TestUnreachableServer(t *testing.T) {
	c := New("http://127.0.0.1:1/api", 0)
	err := c.Health(ctx)
	if err == nil || !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("err = %v, want not reachable", err)
	}
}

func TestHistory_LimitQuery(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/v1/results/history": `[]`,
	})

	entries, err := ts.client().History(ctx, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %d", len(entries))
	}
	if ts.requests[0].Path != "/api/v1/results/history?limit=5" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestLive_ScanSaveExportReport(t *testing.T) {
	c := newLiveServer(t)

	if err := c.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}

	resp, err := c.Scan(ctx, testPNG(t), ScanOptions{UserID: "cli"})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !resp.Success || !resp.Data.RiskLevel.Valid() {
		t.Fatalf("scan resp = %+v", resp)
	}

	entry, err := c.SaveResult(ctx, resp.Data, "")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if entry.ScanID != resp.Data.ScanID || !entry.Saved {
		t.Errorf("entry = %+v", entry)
	}

	entries, err := c.History(ctx, 0)
	if err != nil || len(entries) != 1 {
		t.Fatalf("history = %v, %v", entries, err)
	}

	name, data, err := c.Export(ctx, entry.ScanID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasPrefix(name, "eclipse-resultado-") {
		t.Errorf("name = %q", name)
	}
	var exported scan.Result
	if err := json.Unmarshal(data, &exported); err != nil || exported.ScanID != entry.ScanID {
		t.Errorf("export = %s, %v", data, err)
	}

	report, err := c.Report(ctx, entry.ScanID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report != scan.Report(resp.Data) {
		t.Errorf("report = %q", report)
	}

	if _, err := c.Report(ctx, "SCAN-0-missing"); err == nil {
		t.Error("expected error for missing scan")
	}
}

func TestLive_RejectsNonImage(t *testing.T) {
	c := newLiveServer(t)

	_, err := c.Scan(ctx, upload.NewFile("notes.txt", "", []byte("hello")), ScanOptions{})
	if !IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestLive_Specialists(t *testing.T) {
	c := newLiveServer(t)

	got, err := c.Specialists(ctx)
	if err != nil {
		t.Fatalf("specialists: %v", err)
	}
	if got != scan.SpecialistsURL {
		t.Errorf("url = %q, want %q", got, scan.SpecialistsURL)
	}
}

func TestLive_Documents(t *testing.T) {
	c := newLiveServer(t)

	resp, err := c.Documents(ctx)
	if err != nil {
		t.Fatalf("documents: %v", err)
	}
	if resp.Message != documents.EmptyMessage {
		t.Errorf("message = %q", resp.Message)
	}

	resp, err = c.UploadDocuments(ctx, []upload.File{
		upload.NewFile("a.txt", "", []byte(strings.Repeat("x", 1024))),
		upload.NewFile("b.txt", "", []byte("y")),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(resp.Documents) != 2 || resp.Documents[0].SizeKB != "1.0 KB" {
		t.Errorf("documents = %+v", resp.Documents)
	}
}
