package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alxbtnk/duck/internal/assets"
	"github.com/alxbtnk/duck/internal/generation"
	"github.com/alxbtnk/duck/internal/middleware"
	"github.com/alxbtnk/duck/internal/models"
	"github.com/alxbtnk/duck/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.AssetEntry{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func pngBytes(size int) []byte {
	b := make([]byte, size)
	copy(b, "\x89PNG\r\n\x1a\n")
	return b
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

type assetFixture struct {
	router   *gin.Engine
	registry *assets.Registry
	db       *gorm.DB
}

func newAssetFixture(t *testing.T, maxBytes int64) *assetFixture {
	t.Helper()
	db := setupTestDB(t)
	registry := assets.NewRegistry(store.NewGormStore(db), assets.Defaults())
	require.NoError(t, registry.Recover(context.Background()))
	t.Cleanup(registry.Wait)

	h := NewAssetHandler(registry, NewImageURLValidator("cdn.duckhat.example"), maxBytes)
	r := gin.New()
	r.Use(middleware.ErrorHandlerMiddleware())
	r.GET("/api/assets", h.ListAssets)
	r.GET("/api/assets/:key", h.GetAsset)
	r.PUT("/api/assets/:key", h.PutAsset)
	r.GET("/media/:key", h.ServeMedia)

	return &assetFixture{router: r, registry: registry, db: db}
}

func (f *assetFixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestListAssets_Defaults(t *testing.T) {
	f := newAssetFixture(t, 0)

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/assets", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Ready  bool              `json:"ready"`
		Assets map[string]string `json:"assets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Ready)
	assert.Equal(t, assets.Defaults(), body.Assets)
}

func TestGetAsset(t *testing.T) {
	f := newAssetFixture(t, 0)

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/assets/hero", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, assets.Defaults()[assets.SlotHero], decode(t, w)["ref"])

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/assets/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPutAsset_URL(t *testing.T) {
	f := newAssetFixture(t, 0)
	const ref = "https://cdn.duckhat.example/hero-v2.png"

	req := httptest.NewRequest(http.MethodPut, "/api/assets/hero", strings.NewReader(`{"url":"`+ref+`"}`))
	req.Header.Set("Content-Type", "application/json")
	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, ref, body["ref"])
	assert.Equal(t, PersistOK, body["persisted"])

	got, _ := f.registry.Get(assets.SlotHero)
	assert.Equal(t, ref, got)

	var entry models.AssetEntry
	require.NoError(t, f.db.First(&entry, "slot = ?", "hero").Error)
	assert.Equal(t, ref, entry.URL)
}

func TestPutAsset_RejectsBadInput(t *testing.T) {
	f := newAssetFixture(t, 0)

	cases := map[string]struct {
		path string
		body string
	}{
		"bad key":        {"/api/assets/Hero!", `{"url":"https://i.postimg.cc/x.png"}`},
		"not allowlisted": {"/api/assets/hero", `{"url":"https://evil.example/x.png"}`},
		"plain http":     {"/api/assets/hero", `{"url":"http://i.postimg.cc/x.png"}`},
		"no url":         {"/api/assets/hero", `{}`},
		"not json":       {"/api/assets/hero", `hello`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, tc.path, strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := f.do(req)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	got, _ := f.registry.Get(assets.SlotHero)
	assert.Equal(t, assets.Defaults()[assets.SlotHero], got)
}

func TestPutAsset_UploadAndServe(t *testing.T) {
	f := newAssetFixture(t, 4096)
	img := pngBytes(512)

	body, ct := multipartBody(t, "file", "egg.png", img)
	req := httptest.NewRequest(http.MethodPut, "/api/assets/egg_single", body)
	req.Header.Set("Content-Type", ct)
	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode(t, w)
	ref, _ := resp["ref"].(string)
	assert.True(t, strings.HasPrefix(ref, "/media/egg_single?v="), ref)
	assert.Equal(t, PersistOK, resp["persisted"])

	w = f.do(httptest.NewRequest(http.MethodGet, ref, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Cache-Control"), "immutable")
	assert.Equal(t, img, w.Body.Bytes())

	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	req = httptest.NewRequest(http.MethodGet, ref, nil)
	req.Header.Set("If-None-Match", etag)
	w = f.do(req)
	assert.Equal(t, http.StatusNotModified, w.Code)
}

func TestPutAsset_UploadRejections(t *testing.T) {
	f := newAssetFixture(t, 1024)

	body, ct := multipartBody(t, "file", "notes.txt", []byte("just some text, definitely not pixels"))
	req := httptest.NewRequest(http.MethodPut, "/api/assets/hero", body)
	req.Header.Set("Content-Type", ct)
	assert.Equal(t, http.StatusBadRequest, f.do(req).Code)

	body, ct = multipartBody(t, "file", "huge.png", pngBytes(2048))
	req = httptest.NewRequest(http.MethodPut, "/api/assets/hero", body)
	req.Header.Set("Content-Type", ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, f.do(req).Code)

	body, ct = multipartBody(t, "attachment", "hero.png", pngBytes(64))
	req = httptest.NewRequest(http.MethodPut, "/api/assets/hero", body)
	req.Header.Set("Content-Type", ct)
	assert.Equal(t, http.StatusBadRequest, f.do(req).Code)
}

func TestPutAsset_PersistFailureStillServes(t *testing.T) {
	db := setupTestDB(t)
	registry := assets.NewRegistry(store.NewGormStore(db, store.WithLimits(0, 100)), assets.Defaults())
	require.NoError(t, registry.Recover(context.Background()))
	t.Cleanup(registry.Wait)

	h := NewAssetHandler(registry, NewImageURLValidator(), 0)
	r := gin.New()
	r.Use(middleware.ErrorHandlerMiddleware())
	r.PUT("/api/assets/:key", h.PutAsset)
	r.GET("/media/:key", h.ServeMedia)

	img := pngBytes(512)
	body, ct := multipartBody(t, "image", "hero.png", img)
	req := httptest.NewRequest(http.MethodPut, "/api/assets/hero", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode(t, w)
	assert.Equal(t, PersistFailed, resp["persisted"])
	assert.Contains(t, resp["persistError"], "Storage is full")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/media/hero", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, img, w.Body.Bytes())
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
}

func TestServeMedia_RemoteAndUnknown(t *testing.T) {
	f := newAssetFixture(t, 0)

	w := f.do(httptest.NewRequest(http.MethodGet, "/media/hero", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, assets.Defaults()[assets.SlotHero], w.Header().Get("Location"))

	w = f.do(httptest.NewRequest(http.MethodGet, "/media/missing_slot", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// saveFailingStore reads through to the wrapped store but never persists.
type saveFailingStore struct {
	store.Store
}

func (saveFailingStore) Save(context.Context, string, store.Image) error {
	return errors.New("disk full")
}

func TestServeMedia_URLUpdateWinsOverStoredBytes(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	gs := store.NewGormStore(db)
	old := pngBytes(64)
	require.NoError(t, gs.Save(ctx, assets.SlotHero, store.Image{Data: old}))

	registry := assets.NewRegistry(saveFailingStore{gs}, assets.Defaults())
	require.NoError(t, registry.Recover(ctx))
	t.Cleanup(registry.Wait)

	h := NewAssetHandler(registry, NewImageURLValidator(), 0)
	r := gin.New()
	r.Use(middleware.ErrorHandlerMiddleware())
	r.GET("/media/:key", h.ServeMedia)
	get := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/media/hero", nil))
		return w
	}

	w := get()
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, old, w.Body.Bytes())

	const next = "https://cdn.duckhat.example/new.png"
	assert.Error(t, <-registry.UpdateAsset(assets.SlotHero, next))
	ref, _ := registry.Get(assets.SlotHero)
	require.Equal(t, next, ref)

	w = get()
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, next, w.Header().Get("Location"))
}

func TestServeMedia_StaleVersionIsNotImmutable(t *testing.T) {
	f := newAssetFixture(t, 4096)

	upload := func(data []byte) string {
		body, ct := multipartBody(t, "file", "egg.png", data)
		req := httptest.NewRequest(http.MethodPut, "/api/assets/egg_single", body)
		req.Header.Set("Content-Type", ct)
		w := f.do(req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		ref, _ := decode(t, w)["ref"].(string)
		return ref
	}

	first := pngBytes(128)
	second := pngBytes(256)
	oldRef := upload(first)
	newRef := upload(second)
	require.NotEqual(t, oldRef, newRef)

	w := f.do(httptest.NewRequest(http.MethodGet, oldRef, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, second, w.Body.Bytes())
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	w = f.do(httptest.NewRequest(http.MethodGet, newRef, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Cache-Control"), "immutable")
}

// gateClient resolves every generation once release is closed.
type gateClient struct {
	release chan struct{}
	ref     string
}

func (g *gateClient) Generate(ctx context.Context, _ generation.Source) (generation.Result, error) {
	select {
	case <-g.release:
		return generation.Result{Reference: g.ref}, nil
	case <-ctx.Done():
		return generation.Result{}, ctx.Err()
	}
}

type duckifyFixture struct {
	router  *gin.Engine
	client  *gateClient
	results []string
}

func newDuckifyFixture(t *testing.T, maxSessions int) *duckifyFixture {
	t.Helper()
	f := &duckifyFixture{client: &gateClient{release: make(chan struct{}), ref: "https://cdn.duckhat.example/duck.png"}}
	sessions := generation.NewSessions(func() *generation.Controller {
		return generation.NewController(f.client, generation.WithMaxSourceBytes(4096))
	}, time.Hour, maxSessions)

	h := NewDuckifyHandler(sessions, 4096, func(result string) { f.results = append(f.results, result) })
	r := gin.New()
	r.Use(middleware.ErrorHandlerMiddleware(), middleware.Session(false))
	r.GET("/api/duckify", h.Status)
	r.POST("/api/duckify", h.Submit)
	r.DELETE("/api/duckify", h.Reset)
	f.router = r
	return f
}

func (f *duckifyFixture) do(req *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *duckifyFixture) submit(t *testing.T, data []byte, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, "image", "me.png", data)
	req := httptest.NewRequest(http.MethodPost, "/api/duckify", body)
	req.Header.Set("Content-Type", ct)
	return f.do(req, cookie)
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie issued")
	return nil
}

func requestStatus(t *testing.T, w *httptest.ResponseRecorder) generation.Status {
	t.Helper()
	var body struct {
		Request generation.Request `json:"request"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Request.Status
}

func TestDuckify_Lifecycle(t *testing.T) {
	f := newDuckifyFixture(t, 0)

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/duckify", nil), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, generation.StatusIdle, requestStatus(t, w))
	cookie := sessionCookie(t, w)

	w = f.submit(t, pngBytes(256), cookie)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, generation.StatusGenerating, requestStatus(t, w))

	w = f.submit(t, pngBytes(256), cookie)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, generation.StatusGenerating, requestStatus(t, w))
	assert.Equal(t, "busy", decode(t, w)["kind"])

	// Another visitor has an independent widget.
	other := f.do(httptest.NewRequest(http.MethodGet, "/api/duckify", nil), nil)
	assert.Equal(t, generation.StatusIdle, requestStatus(t, other))

	close(f.client.release)
	require.Eventually(t, func() bool {
		w := f.do(httptest.NewRequest(http.MethodGet, "/api/duckify", nil), cookie)
		return requestStatus(t, w) == generation.StatusComplete
	}, 2*time.Second, 10*time.Millisecond)

	w = f.do(httptest.NewRequest(http.MethodDelete, "/api/duckify", nil), cookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, generation.StatusIdle, requestStatus(t, w))

	assert.Equal(t, []string{"accepted", "busy"}, f.results)
}

func TestDuckify_InvalidInput(t *testing.T) {
	f := newDuckifyFixture(t, 0)

	w := f.submit(t, []byte("plain text pretending to be a selfie"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(generation.KindInvalidInput), decode(t, w)["kind"])

	w = f.submit(t, pngBytes(8192), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/duckify", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	w = f.do(req, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, []string{"invalid", "invalid", "invalid"}, f.results)
}

func TestDuckify_SessionLimit(t *testing.T) {
	f := newDuckifyFixture(t, 1)
	defer close(f.client.release)

	w := f.submit(t, pngBytes(128), nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = f.submit(t, pngBytes(128), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "session_limit", decode(t, w)["kind"])
}
