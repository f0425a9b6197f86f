package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/alxbtnk/duck/internal/generation"
	"github.com/alxbtnk/duck/internal/middleware"
	apperrors "github.com/alxbtnk/duck/pkg/errors"
	"github.com/alxbtnk/duck/pkg/utils"
	"github.com/gin-gonic/gin"
)

type DuckifyHandler struct {
	sessions *generation.Sessions
	maxBytes int64
	onSubmit func(result string)
}

// NewDuckifyHandler serves the per-visitor duckify widget. onSubmit, when set,
// is told "accepted", "busy", "invalid" or "limited" for every submission.
func NewDuckifyHandler(sessions *generation.Sessions, maxBytes int64, onSubmit func(result string)) *DuckifyHandler {
	return &DuckifyHandler{sessions: sessions, maxBytes: maxBytes, onSubmit: onSubmit}
}

// Submit starts a generation for the visitor's photo (multipart "image").
func (h *DuckifyHandler) Submit(c *gin.Context) {
	ctrl, err := h.sessions.Get(c.GetString(middleware.SessionKey))
	if err != nil {
		h.record("limited")
		c.Error(apperrors.Unavailable("The duck factory is at capacity, try again shortly").WithKind("session_limit"))
		return
	}

	src, appErr := h.readSource(c)
	if appErr != nil {
		h.record("invalid")
		c.Error(appErr)
		return
	}

	req, err := ctrl.Submit(src)
	var verr *generation.ValidationError
	switch {
	case errors.Is(err, generation.ErrBusy):
		h.record("busy")
		c.Error(apperrors.Conflict("A duckify request is already in progress").
			WithKind("busy").
			WithDetail("request", req))
		return
	case errors.As(err, &verr):
		h.record("invalid")
		c.Error(apperrors.BadRequest(verr.Reason).WithKind(string(generation.KindInvalidInput)))
		return
	case err != nil:
		c.Error(err)
		return
	}

	h.record("accepted")
	c.JSON(http.StatusAccepted, gin.H{"request": req})
}

// Status returns the visitor's current request; visitors who never submitted are IDLE.
func (h *DuckifyHandler) Status(c *gin.Context) {
	ctrl, ok := h.sessions.Lookup(c.GetString(middleware.SessionKey))
	if !ok {
		c.JSON(http.StatusOK, gin.H{"request": generation.Request{Status: generation.StatusIdle}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": ctrl.Snapshot()})
}

// Reset abandons the visitor's request and returns the widget to IDLE.
func (h *DuckifyHandler) Reset(c *gin.Context) {
	ctrl, ok := h.sessions.Lookup(c.GetString(middleware.SessionKey))
	if !ok {
		c.JSON(http.StatusOK, gin.H{"request": generation.Request{Status: generation.StatusIdle}})
		return
	}
	ctrl.Reset()
	c.JSON(http.StatusOK, gin.H{"request": ctrl.Snapshot()})
}

func (h *DuckifyHandler) readSource(c *gin.Context) (generation.Source, *apperrors.AppError) {
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+1<<20)
	}

	var (
		file   multipart.File
		header *multipart.FileHeader
		err    error
	)
	for _, field := range []string{"image", "file"} {
		file, header, err = c.Request.FormFile(field)
		if err == nil {
			break
		}
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return generation.Source{}, apperrors.TooLarge("That photo is too large").WithKind(string(generation.KindInvalidInput))
		}
		return generation.Source{}, apperrors.BadRequest("Choose a photo to duckify").WithKind(string(generation.KindInvalidInput))
	}
	defer file.Close()

	// One byte over the limit is enough for the controller to reject it.
	limit := h.maxBytes
	if limit <= 0 {
		limit = 1 << 30
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return generation.Source{}, apperrors.BadRequest("Could not read the photo").WithKind(string(generation.KindInvalidInput))
	}

	return generation.Source{
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
		Filename:    utils.CleanFilename(header.Filename),
	}, nil
}

func (h *DuckifyHandler) record(result string) {
	if h.onSubmit != nil {
		h.onSubmit(result)
	}
}
