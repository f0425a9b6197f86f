package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alxbtnk/duck/internal/assets"
	"github.com/alxbtnk/duck/internal/database"
	"github.com/alxbtnk/duck/internal/generation"
	"github.com/alxbtnk/duck/internal/handlers"
	"github.com/alxbtnk/duck/internal/middleware"
	"github.com/alxbtnk/duck/internal/migrations"
	"github.com/alxbtnk/duck/internal/routes"
	"github.com/alxbtnk/duck/internal/store"
	"github.com/alxbtnk/duck/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const adminSecret = "integration_secret_12345"

func init() {
	gin.SetMode(gin.TestMode)
}

// server is one boot of the backend over a database file that outlives it.
type server struct {
	router   *gin.Engine
	registry *assets.Registry
	db       *gorm.DB
	stopped  bool
}

func dbPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "duckhat.db")
}

// boot wires the router the same way cmd/server does, minus Redis and metrics.
// An empty generationURL leaves duckify disabled.
func boot(t *testing.T, dsn, generationURL, propagateSlot string) *server {
	t.Helper()

	db, err := database.Open(dsn)
	require.NoError(t, err)
	_, err = migrations.NewMigrator(db).Run()
	require.NoError(t, err)

	st, err := store.Open(context.Background(), db, nil, store.Settings{MaxEntryBytes: 1 << 20})
	require.NoError(t, err)

	registry := assets.NewRegistry(st, assets.Defaults())
	require.NoError(t, registry.Recover(context.Background()))

	client := generation.NewHTTPClient(generationURL, "gen-key")
	sessions := generation.NewSessions(func() *generation.Controller {
		opts := []generation.ControllerOption{generation.WithTimeout(5 * time.Second)}
		if propagateSlot != "" {
			opts = append(opts, generation.WithPropagation(registry, propagateSlot))
		}
		return generation.NewController(client, opts...)
	}, time.Hour, 0)

	r := gin.New()
	r.Use(middleware.ErrorHandlerMiddleware())
	assetHandler := handlers.NewAssetHandler(registry, handlers.NewImageURLValidator("cdn.duckhat.example"), 1<<20)
	api := r.Group("/api")
	routes.RegisterAssetRoutes(api, assetHandler, adminSecret)
	routes.RegisterDuckifyRoutes(api, handlers.NewDuckifyHandler(sessions, 1<<20, nil), generationURL != "", false)
	routes.RegisterMediaRoutes(r, assetHandler)

	s := &server{router: r, registry: registry, db: db}
	t.Cleanup(s.stop)
	return s
}

// stop flushes pending writes and releases the database file.
func (s *server) stop() {
	if s.stopped {
		return
	}
	s.stopped = true
	s.registry.Wait()
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (s *server) do(method, path string, body io.Reader, contentType, token string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := utils.GenerateToken("integration", utils.RoleAdmin, adminSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func pngBytes(size int) []byte {
	b := make([]byte, size)
	copy(b, "\x89PNG\r\n\x1a\n")
	return b
}

func multipartBody(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile(field, "duck.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}
