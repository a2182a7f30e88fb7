package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"readshelf/pkg/ocr"
	"readshelf/pkg/store"
	"readshelf/services/catalog/internal/app"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.test/" + key, nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

type stubMeta struct{ pages int }

func (s stubMeta) PageCount(string) (int, error) { return s.pages, nil }

func (s stubMeta) PageText(_ string, page int) (string, error) {
	return fmt.Sprintf("Embedded text layer content for page %d.", page), nil
}

type stubRenderer struct{}

func (stubRenderer) RenderPage(_ context.Context, _ string, page int, destDir string) (string, error) {
	out := filepath.Join(destDir, fmt.Sprintf("page-%d.png", page))
	return out, os.WriteFile(out, []byte("png"), 0o600)
}

type stubOCR struct{}

func (stubOCR) Name() string { return "stub" }

func (stubOCR) Recognize(context.Context, []byte) (ocr.Result, error) {
	return ocr.Result{Text: "recognized"}, nil
}

type stubLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *stubLocker) TryAcquire(_ context.Context, key string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return "", false, nil
	}
	l.held[key] = true
	return "token", true, nil
}

func (l *stubLocker) Release(_ context.Context, key, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

type stubLimiter struct{ allow bool }

func (l stubLimiter) Allow(string) bool { return l.allow }

func newTestServer(t *testing.T, pages int, limiter Limiter) *Server {
	t.Helper()
	a, err := app.New(app.Config{
		Store:               store.NewMemoryStore(),
		Objects:             &memObjects{objects: map[string][]byte{}},
		OCR:                 stubOCR{},
		Meta:                stubMeta{pages: pages},
		Renderer:            stubRenderer{},
		Lock:                &stubLocker{},
		MinNativeRunes:      10,
		PlaceholderCoverURL: "https://cdn.test/placeholder.png",
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	return New(Config{App: a, Limiter: limiter})
}

func multipartUpload(t *testing.T, filename, title, folder string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write([]byte("%PDF-1.7 payload")); err != nil {
		t.Fatalf("write file part: %v", err)
	}
	if title != "" {
		_ = mw.WriteField("title", title)
	}
	if folder != "" {
		_ = mw.WriteField("folder", folder)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, mw.FormDataContentType()
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func uploadBook(t *testing.T, s *Server, filename, title, folder string) map[string]any {
	t.Helper()
	body, contentType := multipartUpload(t, filename, title, folder)
	req := httptest.NewRequest(http.MethodPost, "/api/books", body)
	req.Header.Set("Content-Type", contentType)
	rec := doRequest(s, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d body %s", rec.Code, rec.Body.String())
	}
	var summary map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return summary
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, 3, nil)
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUploadAndGetBook(t *testing.T) {
	s := newTestServer(t, 12, nil)
	summary := uploadBook(t, s, "novel.pdf", "My Novel", "Fiction")

	if summary["title"] != "My Novel" || summary["folder"] != "Fiction" {
		t.Fatalf("summary = %v", summary)
	}
	if summary["status"] != "processing" {
		t.Fatalf("status = %v, want processing", summary["status"])
	}
	if summary["processedPages"].(float64) != 5 {
		t.Fatalf("processedPages = %v, want 5", summary["processedPages"])
	}

	id := summary["id"].(string)
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/api/books/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["id"] != id {
		t.Fatalf("id = %v, want %s", got["id"], id)
	}
	if !strings.HasPrefix(got["coverUrl"].(string), "https://objects.test/covers/") {
		t.Fatalf("coverUrl = %v", got["coverUrl"])
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	s := newTestServer(t, 3, nil)
	body, contentType := multipartUpload(t, "notes.txt", "", "")
	req := httptest.NewRequest(http.MethodPost, "/api/books", body)
	req.Header.Set("Content-Type", contentType)
	rec := doRequest(s, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if code := errorCode(t, rec); code != "BOOK_UNSUPPORTED_FILE_TYPE" {
		t.Fatalf("code = %s", code)
	}
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	base := newTestServer(t, 3, nil)
	s := New(Config{App: base.app, MaxUploadBytes: 16})

	body, contentType := multipartUpload(t, "big.pdf", "", "")
	req := httptest.NewRequest(http.MethodPost, "/api/books", body)
	req.Header.Set("Content-Type", contentType)
	rec := doRequest(s, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if code := errorCode(t, rec); code != "BOOK_FILE_TOO_LARGE" {
		t.Fatalf("code = %s", code)
	}
}

func TestUploadRateLimited(t *testing.T) {
	s := newTestServer(t, 3, stubLimiter{allow: false})
	body, contentType := multipartUpload(t, "novel.pdf", "", "")
	req := httptest.NewRequest(http.MethodPost, "/api/books", body)
	req.Header.Set("Content-Type", contentType)
	rec := doRequest(s, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if code := errorCode(t, rec); code != "RATE_LIMITED" {
		t.Fatalf("code = %s", code)
	}
}

func TestListBooks(t *testing.T) {
	s := newTestServer(t, 3, nil)
	uploadBook(t, s, "one.pdf", "", "")
	uploadBook(t, s, "two.pdf", "", "")

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/api/books", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Items []map[string]any `json:"items"`
		Count int              `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 || len(resp.Items) != 2 {
		t.Fatalf("count = %d items %d, want 2", resp.Count, len(resp.Items))
	}
}

func TestLoadPagesEndpoint(t *testing.T) {
	s := newTestServer(t, 8, nil)
	summary := uploadBook(t, s, "long.pdf", "", "")
	id := summary["id"].(string)

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/api/books/"+id+"/load-pages", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var res struct {
		AddedText      string `json:"addedText"`
		ProcessedPages int    `json:"processedPages"`
		Status         string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.ProcessedPages != 8 || res.Status != "completed" {
		t.Fatalf("res = %+v, want 8 pages completed", res)
	}
	if !strings.Contains(res.AddedText, "page 6") {
		t.Fatalf("addedText missing new pages: %q", res.AddedText)
	}

	rec = doRequest(s, httptest.NewRequest(http.MethodGet, "/api/books/missing/load-pages", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing book status = %d, want 404", rec.Code)
	}
}

func TestBookActions(t *testing.T) {
	s := newTestServer(t, 3, nil)
	summary := uploadBook(t, s, "tracked.pdf", "", "")
	id := summary["id"].(string)

	body := strings.NewReader(`{"action":"download"}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/books/"+id+"/actions", body)
	rec := doRequest(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["downloads"].(float64) != 1 {
		t.Fatalf("downloads = %v, want 1", got["downloads"])
	}

	req = httptest.NewRequest(http.MethodPatch, "/api/books/"+id+"/actions", strings.NewReader(`{"action":"share"}`))
	rec = doRequest(s, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid action status = %d, want 400", rec.Code)
	}
	if code := errorCode(t, rec); code != "BOOK_INVALID_ACTION" {
		t.Fatalf("code = %s", code)
	}
}

func TestDeleteBook(t *testing.T) {
	s := newTestServer(t, 3, nil)
	summary := uploadBook(t, s, "gone.pdf", "", "")
	id := summary["id"].(string)

	rec := doRequest(s, httptest.NewRequest(http.MethodDelete, "/api/books/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doRequest(s, httptest.NewRequest(http.MethodDelete, "/api/books/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
	if code := errorCode(t, rec); code != "BOOK_NOT_FOUND" {
		t.Fatalf("code = %s", code)
	}
}

func TestFolderEndpoints(t *testing.T) {
	s := newTestServer(t, 3, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/books/folders", strings.NewReader(`{"name":"Fiction"}`))
	rec := doRequest(s, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/books/folders", strings.NewReader(`{"name":"Fiction"}`))
	rec = doRequest(s, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", rec.Code)
	}
	if code := errorCode(t, rec); code != "FOLDER_EXISTS" {
		t.Fatalf("code = %s", code)
	}

	rec = doRequest(s, httptest.NewRequest(http.MethodGet, "/api/books/folders", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var resp struct {
		Items []string `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 2 || resp.Items[0] != "All" || resp.Items[1] != "Fiction" {
		t.Fatalf("items = %v", resp.Items)
	}

	uploadBook(t, s, "novel.pdf", "", "Fiction")
	rec = doRequest(s, httptest.NewRequest(http.MethodDelete, "/api/books/folders/Fiction", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("in-use delete status = %d, want 409", rec.Code)
	}
	if code := errorCode(t, rec); code != "FOLDER_IN_USE" {
		t.Fatalf("code = %s", code)
	}

	rec = doRequest(s, httptest.NewRequest(http.MethodDelete, "/api/books/folders/Unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown delete status = %d, want 404", rec.Code)
	}
}

func TestErrorBodyCarriesRequestID(t *testing.T) {
	s := newTestServer(t, 3, nil)
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/api/books/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RequestID == "" {
		t.Fatalf("error body missing requestId")
	}
	if resp.RequestID != rec.Header().Get("X-Request-Id") {
		t.Fatalf("requestId %q != header %q", resp.RequestID, rec.Header().Get("X-Request-Id"))
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Code
}
