package handlers

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/ephemhq/ephem/config"
	"github.com/ephemhq/ephem/internal/gate"
	"github.com/ephemhq/ephem/internal/slug"
	"github.com/ephemhq/ephem/models"
	"github.com/ephemhq/ephem/storage"
)

// blindExistsStore reports every slug as free, collapsing the allocator's
// advisory pre-check so both creators reach the store's unique create.
type blindExistsStore struct {
	storage.ResourceStore
}

func (s *blindExistsStore) Exists(ctx context.Context, kind models.Kind, slugValue string) (bool, error) {
	return false, nil
}

func uploadFile(t *testing.T, router *gin.Engine, slugValue, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if slugValue != "" {
		if err := mw.WriteField("slug", slugValue); err != nil {
			t.Fatalf("write slug field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.RemoteAddr = "192.0.2.1:12345"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// A create that loses the slug race must not touch the winner's payload:
// the record is committed first, and the payload is only written by the
// creator that owns the record.
func TestLosingFileCreateLeavesWinnerPayloadIntact(t *testing.T) {
	gin.SetMode(gin.TestMode)

	inner, err := storage.NewFilesystemStore(t.TempDir(), "", "")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	store := &blindExistsStore{ResourceStore: inner}

	cfg := &config.Config{MaxUpload: 1024 * 1024, BaseURL: "http://test.local"}
	createHandler := NewCreateHandler(store, slug.New(store), cfg)
	accessHandler := NewAccessHandler(gate.New(store), store, cfg)

	router := gin.New()
	router.POST("/api/files", createHandler.CreateFile)
	router.GET("/f/:slug", accessHandler.DownloadFile)

	const fileSlug = "abc123"

	if w := uploadFile(t, router, fileSlug, "winner.txt", "winner content"); w.Code != http.StatusCreated {
		t.Fatalf("first upload: status %d, body %s", w.Code, w.Body.String())
	}
	if w := uploadFile(t, router, fileSlug, "loser.txt", "loser content"); w.Code != http.StatusConflict {
		t.Fatalf("second upload: status %d, want %d", w.Code, http.StatusConflict)
	}

	payload, err := inner.GetPayload(context.Background(), models.KindFile, fileSlug)
	if err != nil {
		t.Fatalf("winner payload gone after losing create: %v", err)
	}
	if string(payload) != "winner content" {
		t.Errorf("payload = %q, want %q", payload, "winner content")
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/f/"+fileSlug, nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("download after losing create: status %d, body %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "winner content" {
		t.Errorf("downloaded %q, want winner content", w.Body.String())
	}
}

// A payload write failure must not leave a metadata record behind serving
// 410s forever.
type payloadFailStore struct {
	storage.ResourceStore
}

func (s *payloadFailStore) StorePayload(ctx context.Context, kind models.Kind, slugValue string, content []byte) error {
	return storage.ErrUnavailable
}

func TestFileCreateRollsBackRecordOnPayloadFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)

	inner, err := storage.NewFilesystemStore(t.TempDir(), "", "")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	store := &payloadFailStore{ResourceStore: inner}

	cfg := &config.Config{MaxUpload: 1024 * 1024, BaseURL: "http://test.local"}
	createHandler := NewCreateHandler(store, slug.New(store), cfg)

	router := gin.New()
	router.POST("/api/files", createHandler.CreateFile)

	if w := uploadFile(t, router, "failfile", "doomed.txt", "content"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("upload with failing payload store: status %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	if _, err := inner.Get(context.Background(), models.KindFile, "failfile"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("record after failed payload write: err = %v, want ErrNotFound", err)
	}
}
