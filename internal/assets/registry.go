// Package assets owns the slot to image reference mapping that the landing
// page renders.
//
// The mapping starts from compiled-in defaults. Recover overlays whatever
// the store holds in one atomic step and flips Ready. Updates are applied to
// memory at once and persisted in the background; a failed write never rolls
// the in-memory value back.
package assets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alxbtnk/duck/internal/store"
	"github.com/alxbtnk/duck/pkg/logger"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrSuperseded is reported for a write skipped because a newer update to the
// same slot was issued before it reached the store.
var ErrSuperseded = errors.New("assets: superseded by a newer update")

type slotWriter struct {
	mu     sync.Mutex
	latest uint64
}

type Registry struct {
	store store.Store
	log   zerolog.Logger

	persistTimeout time.Duration
	concurrency    int
	onPersist      func(key string, err error)

	mu       sync.RWMutex
	defaults map[string]string
	assets   map[string]string
	overlay  map[string]*store.Image
	touched  map[string]bool
	writers  map[string]*slotWriter
	ready    bool

	recoverOnce sync.Once
	recoverErr  error
	pending     sync.WaitGroup
}

type Option func(*Registry)

// WithPersistTimeout bounds each background write.
func WithPersistTimeout(d time.Duration) Option {
	return func(r *Registry) { r.persistTimeout = d }
}

// WithRecoverConcurrency bounds the number of concurrent loads during Recover.
func WithRecoverConcurrency(n int) Option {
	return func(r *Registry) { r.concurrency = n }
}

// WithPersistHook is called after every background write with its outcome.
func WithPersistHook(fn func(key string, err error)) Option {
	return func(r *Registry) { r.onPersist = fn }
}

// NewRegistry builds a registry holding defaults. It is not Ready until Recover returns.
func NewRegistry(s store.Store, defaults map[string]string, opts ...Option) *Registry {
	r := &Registry{
		store:          s,
		log:            logger.With("assets"),
		persistTimeout: 30 * time.Second,
		concurrency:    8,
		defaults:       make(map[string]string, len(defaults)),
		assets:         make(map[string]string, len(defaults)),
		overlay:        make(map[string]*store.Image),
		touched:        make(map[string]bool),
		writers:        make(map[string]*slotWriter),
	}
	for k, v := range defaults {
		r.defaults[k] = v
		r.assets[k] = v
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.concurrency < 1 {
		r.concurrency = 1
	}
	return r
}

// Recover overlays persisted entries onto the defaults and marks the registry
// ready. Only the first call does any work.
//
// Persisted keys outside the default set are adopted as new slots as long as
// they are valid slot keys. Slots updated while recovery was running keep the
// live value.
func (r *Registry) Recover(ctx context.Context) error {
	r.recoverOnce.Do(func() {
		r.recoverErr = r.recover(ctx)
	})
	return r.recoverErr
}

func (r *Registry) recover(ctx context.Context) error {
	start := time.Now()
	keys := append([]string(nil), r.store.ListKeys(ctx)...)
	sort.Strings(keys)

	refs := make([]string, len(keys))
	found := make([]bool, len(keys))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, key := range keys {
		if !store.ValidKey(key) {
			r.log.Warn().Str("key", key).Msg("skipping persisted entry with invalid key")
			continue
		}
		i, key := i, key
		g.Go(func() error {
			refs[i], found[i] = r.store.Load(ctx, key)
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	recovered, adopted := 0, 0
	for i, key := range keys {
		if !found[i] || r.touched[key] {
			continue
		}
		if _, known := r.defaults[key]; !known {
			adopted++
		}
		r.assets[key] = refs[i]
		recovered++
	}
	r.touched = make(map[string]bool)
	r.ready = true

	r.log.Info().
		Int("persisted", len(keys)).
		Int("recovered", recovered).
		Int("adopted", adopted).
		Dur("took", time.Since(start)).
		Msg("asset recovery complete")

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("asset recovery interrupted: %w", err)
	}
	return nil
}

// Ready reports whether recovery has completed.
func (r *Registry) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// Get returns the current reference for key.
func (r *Registry) Get(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.assets[key]
	return ref, ok
}

// Snapshot returns a copy of the whole mapping.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := make(map[string]string, len(r.assets))
	for k, v := range r.assets {
		m[k] = v
	}
	return m
}

// UpdateAsset points key at a remote URL. The mapping changes before this
// returns; the returned channel yields the persistence outcome once.
func (r *Registry) UpdateAsset(key, ref string) <-chan error {
	ref = strings.TrimSpace(ref)
	if !store.ValidKey(key) {
		return done(fmt.Errorf("%w: %q", store.ErrInvalidKey, key))
	}
	if !store.ValidRemoteURL(ref) {
		return done(fmt.Errorf("%w: %q is not an absolute URL", store.ErrNotImage, ref))
	}

	seq := r.apply(key, ref, nil)
	return r.persist(key, seq, store.Image{URL: ref})
}

// UploadAsset keeps data in memory for key and persists it in the background.
// It returns the media reference now served for key.
func (r *Registry) UploadAsset(key string, data []byte) (string, <-chan error) {
	if !store.ValidKey(key) {
		return "", done(fmt.Errorf("%w: %q", store.ErrInvalidKey, key))
	}
	if len(data) == 0 {
		return "", done(store.ErrEmptyImage)
	}
	ct, ok := store.SniffImage(data)
	if !ok {
		return "", done(fmt.Errorf("%w: detected %s", store.ErrNotImage, ct))
	}

	img := &store.Image{Data: data, ContentType: ct}
	ref := store.MediaPath(key, store.Checksum(data))
	seq := r.apply(key, ref, img)
	return ref, r.persist(key, seq, *img)
}

func (r *Registry) apply(key, ref string, img *store.Image) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.assets[key] = ref
	if img != nil {
		r.overlay[key] = img
	} else {
		delete(r.overlay, key)
	}
	if !r.ready {
		r.touched[key] = true
	}

	w, ok := r.writers[key]
	if !ok {
		w = &slotWriter{}
		r.writers[key] = w
	}
	w.latest++
	return w.latest
}

func (r *Registry) persist(key string, seq uint64, img store.Image) <-chan error {
	result := make(chan error, 1)

	r.mu.RLock()
	w := r.writers[key]
	r.mu.RUnlock()

	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		defer close(result)

		// One write per slot at a time; a newer update makes this one moot.
		w.mu.Lock()
		defer w.mu.Unlock()

		r.mu.RLock()
		stale := seq != w.latest
		r.mu.RUnlock()
		if stale {
			result <- ErrSuperseded
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.persistTimeout)
		defer cancel()

		err := r.store.Save(ctx, key, img)
		if err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("persisting asset failed, keeping in-memory value")
		}
		if r.onPersist != nil {
			r.onPersist(key, err)
		}
		result <- err
	}()
	return result
}

// Image returns the bytes behind a media reference: the in-memory copy first,
// then the store. Slots whose current reference is not a media path have no
// bytes, whatever an older row still holds.
func (r *Registry) Image(ctx context.Context, key string) (*store.Image, bool) {
	r.mu.RLock()
	ref := r.assets[key]
	img, ok := r.overlay[key]
	r.mu.RUnlock()
	if !strings.HasPrefix(ref, store.MediaPrefix) {
		return nil, false
	}
	if ok {
		cp := *img
		return &cp, true
	}
	return r.store.Blob(ctx, key)
}

// Wait blocks until every background write has finished.
func (r *Registry) Wait() {
	r.pending.Wait()
}

func done(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	close(ch)
	return ch
}
