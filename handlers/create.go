package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ephemhq/ephem/config"
	"github.com/ephemhq/ephem/internal/expiry"
	"github.com/ephemhq/ephem/internal/gate"
	"github.com/ephemhq/ephem/internal/metrics"
	"github.com/ephemhq/ephem/internal/slug"
	"github.com/ephemhq/ephem/models"
	"github.com/ephemhq/ephem/storage"
	"github.com/ephemhq/ephem/utils"
)

// CreateHandler handles resource creation endpoints.
type CreateHandler struct {
	store  storage.ResourceStore
	alloc  *slug.Allocator
	config *config.Config
}

// NewCreateHandler creates a new creation handler.
func NewCreateHandler(store storage.ResourceStore, alloc *slug.Allocator, cfg *config.Config) *CreateHandler {
	return &CreateHandler{store: store, alloc: alloc, config: cfg}
}

// createCommand is a fully validated creation request, produced from an
// HTTP body before any engine component is called.
type createCommand struct {
	Kind      models.Kind
	Slug      string // custom candidate, may be empty
	TTL       *time.Duration
	Ceiling   int64
	Password  string
	Content   []byte
	Filename  string
	TargetURL string
}

type createdResponse struct {
	Slug      string     `json:"slug"`
	URL       string     `json:"url"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	MaxUses   int64      `json:"max_uses,omitempty"`
}

func parseTTLField(raw string) (*time.Duration, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := expiry.ParseTTL(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// create runs the shared pipeline: resolve expiry, allocate a slug, hash
// the password, persist metadata and payload. The quota check has already
// happened in middleware by the time this runs.
func (h *CreateHandler) create(c *gin.Context, cmd *createCommand) {
	now := time.Now()

	length := config.DefaultSlugLength
	if cmd.Kind == models.KindFile || cmd.Kind == models.KindLink {
		length = config.LongSlugLength
	}

	allocated, err := h.alloc.Allocate(c.Request.Context(), cmd.Kind, length, cmd.Slug)
	if err != nil {
		h.createError(c, err)
		return
	}

	res := &models.Resource{
		Slug:      allocated,
		Kind:      cmd.Kind,
		CreatedAt: now,
		ExpiresAt: expiry.Resolve(cmd.Kind, cmd.TTL, now),
		Size:      int64(len(cmd.Content)),
		Filename:  cmd.Filename,
		TargetURL: cmd.TargetURL,
	}
	if cmd.Ceiling > 0 {
		res.UsageCeiling = cmd.Ceiling
	}
	if cmd.Password != "" {
		hash, err := gate.HashPassword(cmd.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
			return
		}
		res.PasswordHash = hash
	}

	if cmd.Kind.HasExternalPayload() {
		res.ContentType = utils.DetectContentType(cmd.Filename, cmd.Content)
	} else {
		res.Content = cmd.Content
		res.ContentType = utils.DetectContentType("", cmd.Content)
	}

	// The unique-constraint create is the authoritative collision check,
	// so it must win the (kind, slug) key before any payload write: a
	// losing creator that wrote first would clobber the winner's payload.
	if err := h.store.Create(c.Request.Context(), res); err != nil {
		h.createError(c, err)
		return
	}

	if cmd.Kind.HasExternalPayload() {
		if err := h.store.StorePayload(c.Request.Context(), cmd.Kind, allocated, cmd.Content); err != nil {
			log.Printf("[ERROR] Store payload for %s/%s: %v", cmd.Kind, allocated, err)
			if delErr := h.store.Delete(c.Request.Context(), cmd.Kind, allocated); delErr != nil {
				log.Printf("[WARN] Orphaned record %s/%s: %v", cmd.Kind, allocated, delErr)
			}
			h.createError(c, err)
			return
		}
	}

	metrics.ResourcesCreated.WithLabelValues(string(cmd.Kind)).Inc()
	c.JSON(http.StatusCreated, createdResponse{
		Slug:      allocated,
		URL:       h.shareURL(c, cmd.Kind, allocated),
		ExpiresAt: res.ExpiresAt,
		MaxUses:   res.UsageCeiling,
	})
}

func (h *CreateHandler) createError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, slug.ErrInvalidSlug):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid custom slug"})
	case errors.Is(err, slug.ErrTaken), errors.Is(err, storage.ErrSlugTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "slug already taken"})
	case errors.Is(err, slug.ErrExhausted):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not allocate a slug, try again"})
	case errors.Is(err, storage.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
	default:
		log.Printf("[ERROR] Create failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *CreateHandler) shareURL(c *gin.Context, kind models.Kind, slugValue string) string {
	base := h.config.BaseURL
	if base == "" {
		scheme := "http"
		if c.GetHeader("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	switch kind {
	case models.KindPaste:
		return fmt.Sprintf("%s/%s", base, slugValue)
	default:
		return fmt.Sprintf("%s/%s/%s", base, kindPrefix(kind), slugValue)
	}
}

func kindPrefix(kind models.Kind) string {
	switch kind {
	case models.KindFile:
		return "f"
	case models.KindURL:
		return "u"
	case models.KindQR:
		return "q"
	case models.KindLink:
		return "l"
	}
	return "p"
}

type pasteRequest struct {
	Content  string `json:"content" binding:"required"`
	TTL      string `json:"ttl"`
	MaxViews int64  `json:"max_views" binding:"min=0"`
	Password string `json:"password"`
	Slug     string `json:"slug"`
}

// CreatePaste handles POST /api/pastes.
func (h *CreateHandler) CreatePaste(c *gin.Context) {
	var req pasteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ttl, err := parseTTLField(req.TTL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if int64(len(req.Content)) > h.config.MaxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "content too large"})
		return
	}
	h.create(c, &createCommand{
		Kind:     models.KindPaste,
		Slug:     req.Slug,
		TTL:      ttl,
		Ceiling:  req.MaxViews,
		Password: req.Password,
		Content:  []byte(req.Content),
	})
}

// CreateFile handles POST /api/files (multipart upload).
func (h *CreateHandler) CreateFile(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file provided"})
		return
	}
	defer func() { _ = file.Close() }()

	if header.Size > h.config.MaxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	content, err := io.ReadAll(io.LimitReader(file, h.config.MaxUpload+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return
	}
	if int64(len(content)) > h.config.MaxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	if len(content) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty file"})
		return
	}

	ttl, err := parseTTLField(c.PostForm("ttl"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var ceiling int64
	if raw := c.PostForm("max_downloads"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &ceiling); err != nil || ceiling < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid max_downloads"})
			return
		}
	}

	h.create(c, &createCommand{
		Kind:     models.KindFile,
		Slug:     c.PostForm("slug"),
		TTL:      ttl,
		Ceiling:  ceiling,
		Password: c.PostForm("password"),
		Content:  content,
		Filename: header.Filename,
	})
}

type urlRequest struct {
	TargetURL string `json:"target_url" binding:"required"`
	TTL       string `json:"ttl"`
	MaxClicks int64  `json:"max_clicks" binding:"min=0"`
	Password  string `json:"password"`
	Slug      string `json:"slug"`
}

// CreateURL handles POST /api/urls.
func (h *CreateHandler) CreateURL(c *gin.Context) {
	var req urlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	parsed, err := url.Parse(req.TargetURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_url must be an absolute http(s) URL"})
		return
	}
	ttl, err := parseTTLField(req.TTL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.create(c, &createCommand{
		Kind:      models.KindURL,
		Slug:      req.Slug,
		TTL:       ttl,
		Ceiling:   req.MaxClicks,
		Password:  req.Password,
		TargetURL: req.TargetURL,
	})
}

type qrRequest struct {
	Data     string `json:"data" binding:"required"`
	TTL      string `json:"ttl"`
	Password string `json:"password"`
	Slug     string `json:"slug"`
}

// CreateQR handles POST /api/qr. The record stores the encoded data; image
// rendering happens client-side.
func (h *CreateHandler) CreateQR(c *gin.Context) {
	var req qrRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ttl, err := parseTTLField(req.TTL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.create(c, &createCommand{
		Kind:     models.KindQR,
		Slug:     req.Slug,
		TTL:      ttl,
		Password: req.Password,
		Content:  []byte(req.Data),
	})
}

type linkEntry struct {
	Label string `json:"label" binding:"required"`
	URL   string `json:"url" binding:"required,url"`
}

type linkPageRequest struct {
	Title    string      `json:"title" binding:"required"`
	Links    []linkEntry `json:"links" binding:"required,min=1,dive"`
	TTL      string      `json:"ttl"`
	MaxViews int64       `json:"max_views" binding:"min=0"`
	Password string      `json:"password"`
	Slug     string      `json:"slug"`
}

// CreateLinkPage handles POST /api/links.
func (h *CreateHandler) CreateLinkPage(c *gin.Context) {
	var req linkPageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ttl, err := parseTTLField(req.TTL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payload, err := json.Marshal(gin.H{"title": req.Title, "links": req.Links})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.create(c, &createCommand{
		Kind:     models.KindLink,
		Slug:     req.Slug,
		TTL:      ttl,
		Ceiling:  req.MaxViews,
		Password: req.Password,
		Content:  payload,
	})
}

type contactRequest struct {
	Name    string `json:"name" binding:"required"`
	Email   string `json:"email" binding:"required,email"`
	Message string `json:"message" binding:"required"`
}

// Contact handles POST /api/contact. Submissions are accepted and logged;
// delivery is handled out of band.
func (h *CreateHandler) Contact(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	log.Printf("Contact submission from %s <%s> (%d bytes)", req.Name, req.Email, len(req.Message))
	c.JSON(http.StatusAccepted, gin.H{"status": "received"})
}
