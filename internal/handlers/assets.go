package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/alxbtnk/duck/internal/assets"
	"github.com/alxbtnk/duck/internal/store"
	apperrors "github.com/alxbtnk/duck/pkg/errors"
	"github.com/alxbtnk/duck/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Persistence outcomes reported by PUT /api/assets/:key.
const (
	PersistOK         = "ok"
	PersistFailed     = "failed"
	PersistPending    = "pending"
	PersistSuperseded = "superseded"
)

type AssetHandler struct {
	registry    *assets.Registry
	urls        *ImageURLValidator
	maxBytes    int64
	persistWait time.Duration
}

func NewAssetHandler(registry *assets.Registry, urls *ImageURLValidator, maxBytes int64) *AssetHandler {
	return &AssetHandler{
		registry:    registry,
		urls:        urls,
		maxBytes:    maxBytes,
		persistWait: 2 * time.Second,
	}
}

// ListAssets returns every slot reference and whether recovery has finished.
func (h *AssetHandler) ListAssets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ready":  h.registry.Ready(),
		"assets": h.registry.Snapshot(),
	})
}

func (h *AssetHandler) GetAsset(c *gin.Context) {
	key := c.Param("key")
	ref, ok := h.registry.Get(key)
	if !ok {
		c.Error(apperrors.NotFound("Unknown asset slot"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "ref": ref})
}

// PutAsset replaces a slot with an uploaded file (multipart "file") or a
// remote URL (JSON {"url"}). The slot changes immediately; the response
// waits briefly to report whether the change was persisted.
func (h *AssetHandler) PutAsset(c *gin.Context) {
	key := c.Param("key")
	if !store.ValidKey(key) {
		c.Error(apperrors.BadRequest("Slot keys are lowercase letters, digits and underscores"))
		return
	}

	var (
		ref  string
		errc <-chan error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		data, appErr := h.readUpload(c)
		if appErr != nil {
			c.Error(appErr)
			return
		}
		if ct, ok := store.SniffImage(data); !ok {
			c.Error(apperrors.BadRequest("Uploaded file is " + ct + ", not an image"))
			return
		}
		ref, errc = h.registry.UploadAsset(key, data)
	} else {
		var input struct {
			URL string `json:"url" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.Error(apperrors.BadRequest("Expected a multipart file or a JSON body with a url"))
			return
		}
		ref = strings.TrimSpace(input.URL)
		if err := h.urls.Validate(ref); err != nil {
			c.Error(apperrors.BadRequest(err.Error()))
			return
		}
		errc = h.registry.UpdateAsset(key, ref)
	}

	persisted, persistErr := h.waitPersist(errc)
	if persistErr != nil && isInputError(persistErr) {
		c.Error(apperrors.BadRequest(persistErr.Error()))
		return
	}

	logger.Info().
		Str("key", key).
		Str("ref", ref).
		Str("persisted", persisted).
		Str("subject", c.GetString("subject")).
		Msg("Asset slot updated")

	body := gin.H{"key": key, "ref": ref, "persisted": persisted}
	if persisted == PersistFailed {
		body["persistError"] = persistMessage(persistErr)
	}
	c.JSON(http.StatusOK, body)
}

// readUpload reads the first present file field, capped at maxBytes.
func (h *AssetHandler) readUpload(c *gin.Context) ([]byte, *apperrors.AppError) {
	if h.maxBytes > 0 {
		// Room for the multipart envelope on top of the file itself.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+1<<20)
	}

	var (
		file multipart.File
		err  error
	)
	for _, field := range []string{"file", "image"} {
		file, _, err = c.Request.FormFile(field)
		if err == nil {
			break
		}
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.TooLarge(fmt.Sprintf("Images are limited to %d KB", h.maxBytes>>10))
		}
		return nil, apperrors.BadRequest("No valid file field found")
	}
	defer file.Close()

	limit := h.maxBytes
	if limit <= 0 {
		limit = 1 << 30
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, apperrors.BadRequest("Could not read the uploaded file")
	}
	if int64(len(data)) > limit {
		return nil, apperrors.TooLarge(fmt.Sprintf("Images are limited to %d KB", h.maxBytes>>10))
	}
	if len(data) == 0 {
		return nil, apperrors.BadRequest("Uploaded file is empty")
	}
	return data, nil
}

func (h *AssetHandler) waitPersist(errc <-chan error) (string, error) {
	timer := time.NewTimer(h.persistWait)
	defer timer.Stop()

	select {
	case err := <-errc:
		switch {
		case err == nil:
			return PersistOK, nil
		case errors.Is(err, assets.ErrSuperseded):
			return PersistSuperseded, err
		default:
			return PersistFailed, err
		}
	case <-timer.C:
		return PersistPending, nil
	}
}

func isInputError(err error) bool {
	return errors.Is(err, store.ErrInvalidKey) || errors.Is(err, store.ErrNotImage) || errors.Is(err, store.ErrEmptyImage)
}

func persistMessage(err error) string {
	switch {
	case errors.Is(err, store.ErrQuotaExceeded):
		return "Storage is full; the change is live until restart"
	case errors.Is(err, store.ErrUnavailable):
		return "Storage is unavailable; the change is live until restart"
	default:
		return "The change is live but could not be saved"
	}
}

// ServeMedia serves the bytes behind a /media reference. Slots that point at
// a remote URL redirect there.
func (h *AssetHandler) ServeMedia(c *gin.Context) {
	key := c.Param("key")
	if !store.ValidKey(key) {
		c.Error(apperrors.NotFound("Unknown asset"))
		return
	}

	if ref, found := h.registry.Get(key); found && store.ValidRemoteURL(ref) {
		c.Redirect(http.StatusFound, ref)
		return
	}

	img, ok := h.registry.Image(c.Request.Context(), key)
	if !ok {
		c.Error(apperrors.NotFound("Unknown asset"))
		return
	}

	sum := store.Checksum(img.Data)
	etag := `"` + sum[:16] + `"`
	// Only a version naming these exact bytes may be cached forever.
	if c.Query("v") == sum[:12] {
		c.Header("Cache-Control", "public, max-age=31536000, immutable")
	} else {
		c.Header("Cache-Control", "no-cache")
	}
	c.Header("ETag", etag)
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}

	contentType := img.ContentType
	if contentType == "" {
		contentType, _ = store.SniffImage(img.Data)
	}
	c.Data(http.StatusOK, contentType, img.Data)
}
