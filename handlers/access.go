package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ephemhq/ephem/config"
	"github.com/ephemhq/ephem/internal/gate"
	"github.com/ephemhq/ephem/models"
	"github.com/ephemhq/ephem/storage"
	"github.com/ephemhq/ephem/utils"
)

// AccessHandler serves resource reads: paste views, file downloads, URL
// redirects, QR data and link pages. Every successful read goes through the
// access gate, which is where the usage counter is consumed.
type AccessHandler struct {
	gate   *gate.Gate
	store  storage.ResourceStore
	config *config.Config
}

// NewAccessHandler creates a new access handler.
func NewAccessHandler(g *gate.Gate, store storage.ResourceStore, cfg *config.Config) *AccessHandler {
	return &AccessHandler{gate: g, store: store, config: cfg}
}

// password extracts a supplied password from header or query. The unlock
// endpoint accepts it in a JSON body instead.
func requestPassword(c *gin.Context) string {
	if pw := c.GetHeader("X-Password"); pw != "" {
		return pw
	}
	return c.Query("password")
}

// gateError maps terminal gate states to status codes: absent is 404, dead
// is 410, credential failures are 401 so clients know a retry can help.
func gateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gate.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, gate.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"error": "expired"})
	case errors.Is(err, gate.ErrExhausted):
		c.JSON(http.StatusGone, gin.H{"error": "no uses remaining"})
	case errors.Is(err, gate.ErrPasswordRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "password required"})
	case errors.Is(err, gate.ErrInvalidPassword):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
	case errors.Is(err, storage.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
	default:
		log.Printf("[ERROR] Access failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func setUsageHeaders(c *gin.Context, access *gate.Access) {
	c.Header("X-Usage-Count", strconv.FormatInt(access.UsageCount, 10))
	if remaining := access.Resource.Remaining(); remaining >= 0 {
		c.Header("X-Usage-Remaining", strconv.FormatInt(remaining, 10))
	}
}

// ViewPaste handles GET /:slug — paste content, inline when text.
func (h *AccessHandler) ViewPaste(c *gin.Context) {
	access, err := h.gate.Open(c.Request.Context(), models.KindPaste, c.Param("slug"), requestPassword(c))
	if err != nil {
		gateError(c, err)
		return
	}
	setUsageHeaders(c, access)

	contentType := access.Resource.ContentType
	if contentType == "" || !utils.IsTextContent(contentType) {
		contentType = "text/plain; charset=utf-8"
	}
	c.Data(http.StatusOK, contentType, access.Resource.Content)
}

// RawPaste handles GET /raw/:slug — always text/plain.
func (h *AccessHandler) RawPaste(c *gin.Context) {
	access, err := h.gate.Open(c.Request.Context(), models.KindPaste, c.Param("slug"), requestPassword(c))
	if err != nil {
		gateError(c, err)
		return
	}
	setUsageHeaders(c, access)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", access.Resource.Content)
}

// DownloadFile handles GET /f/:slug.
func (h *AccessHandler) DownloadFile(c *gin.Context) {
	slug := c.Param("slug")
	access, err := h.gate.Open(c.Request.Context(), models.KindFile, slug, requestPassword(c))
	if err != nil {
		gateError(c, err)
		return
	}

	content, err := h.store.GetPayload(c.Request.Context(), models.KindFile, slug)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Metadata outlived its payload, likely a partially swept
			// record. Treat as gone.
			c.JSON(http.StatusGone, gin.H{"error": "file no longer available"})
			return
		}
		gateError(c, err)
		return
	}

	setUsageHeaders(c, access)
	filename := access.Resource.Filename
	if filename == "" {
		filename = slug
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, access.Resource.ContentType, content)
}

// RedirectURL handles GET /u/:slug — 302 to the target.
func (h *AccessHandler) RedirectURL(c *gin.Context) {
	access, err := h.gate.Open(c.Request.Context(), models.KindURL, c.Param("slug"), requestPassword(c))
	if err != nil {
		gateError(c, err)
		return
	}
	setUsageHeaders(c, access)
	c.Redirect(http.StatusFound, access.Resource.TargetURL)
}

// ViewQR handles GET /q/:slug — the stored QR data.
func (h *AccessHandler) ViewQR(c *gin.Context) {
	access, err := h.gate.Open(c.Request.Context(), models.KindQR, c.Param("slug"), requestPassword(c))
	if err != nil {
		gateError(c, err)
		return
	}
	setUsageHeaders(c, access)
	c.JSON(http.StatusOK, gin.H{
		"slug":        access.Resource.Slug,
		"data":        string(access.Resource.Content),
		"usage_count": access.UsageCount,
	})
}

// ViewLinkPage handles GET /l/:slug — the stored link page document.
func (h *AccessHandler) ViewLinkPage(c *gin.Context) {
	access, err := h.gate.Open(c.Request.Context(), models.KindLink, c.Param("slug"), requestPassword(c))
	if err != nil {
		gateError(c, err)
		return
	}
	setUsageHeaders(c, access)

	var page json.RawMessage = access.Resource.Content
	c.JSON(http.StatusOK, gin.H{
		"slug":        access.Resource.Slug,
		"page":        page,
		"usage_count": access.UsageCount,
	})
}

type unlockRequest struct {
	Password string `json:"password"`
}

// Unlock handles POST /api/:kind/:slug/unlock — password-gated access with
// the credential in a JSON body. On success it returns the content in a
// JSON envelope; one use is consumed exactly as with a direct read.
func (h *AccessHandler) Unlock(c *gin.Context) {
	kind := models.Kind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown resource kind"})
		return
	}

	var req unlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	slug := c.Param("slug")
	access, err := h.gate.Open(c.Request.Context(), kind, slug, req.Password)
	if err != nil {
		gateError(c, err)
		return
	}
	setUsageHeaders(c, access)

	body := gin.H{
		"slug":        access.Resource.Slug,
		"kind":        access.Resource.Kind,
		"usage_count": access.UsageCount,
	}
	if remaining := access.Resource.Remaining(); remaining >= 0 {
		body["remaining"] = remaining
	}

	switch kind {
	case models.KindURL:
		body["target_url"] = access.Resource.TargetURL
	case models.KindFile:
		content, err := h.store.GetPayload(c.Request.Context(), kind, slug)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			gateError(c, err)
			return
		}
		body["filename"] = access.Resource.Filename
		body["content_type"] = access.Resource.ContentType
		body["content"] = content // base64 in JSON
	case models.KindLink:
		body["page"] = json.RawMessage(access.Resource.Content)
	default:
		body["content"] = string(access.Resource.Content)
	}
	c.JSON(http.StatusOK, body)
}

// Meta handles GET /api/meta/:kind/:slug — metadata without consuming a
// use or requiring a password. Content is never included.
func (h *AccessHandler) Meta(c *gin.Context) {
	kind := models.Kind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown resource kind"})
		return
	}

	res, err := h.gate.Peek(c.Request.Context(), kind, c.Param("slug"))
	if err != nil {
		gateError(c, err)
		return
	}

	body := gin.H{
		"slug":         res.Slug,
		"kind":         res.Kind,
		"created_at":   res.CreatedAt,
		"usage_count":  res.UsageCount,
		"size":         res.Size,
		"has_password": res.HasPassword(),
	}
	if res.ExpiresAt != nil {
		body["expires_at"] = res.ExpiresAt
	}
	if res.UsageCeiling > 0 {
		body["max_uses"] = res.UsageCeiling
		body["remaining"] = res.Remaining()
	}
	c.JSON(http.StatusOK, body)
}
