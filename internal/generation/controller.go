package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/alxbtnk/duck/pkg/logger"
	"github.com/rs/zerolog"
)

// Status is the lifecycle state of the active generation request.
type Status string

const (
	StatusIdle       Status = "IDLE"
	StatusUploading  Status = "UPLOADING"
	StatusGenerating Status = "GENERATING"
	StatusComplete   Status = "COMPLETE"
	StatusError      Status = "ERROR"
)

// InFlight reports whether s blocks new submissions.
func (s Status) InFlight() bool {
	return s == StatusUploading || s == StatusGenerating
}

// Request is a snapshot of the active generation request.
type Request struct {
	Seq        uint64    `json:"seq"`
	Status     Status    `json:"status"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  Kind      `json:"errorKind,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

type generated struct {
	res Result
	err error
}

// Propagator receives successful results, typically the asset registry.
type Propagator interface {
	UpdateAsset(key, ref string) <-chan error
	UploadAsset(key string, data []byte) (string, <-chan error)
}

// Controller drives one generation request at a time through
// IDLE → UPLOADING → GENERATING → COMPLETE | ERROR.
//
// The mutex only guards fields; it is never held across the client call.
// A second submission while one is in flight is refused with ErrBusy.
type Controller struct {
	client    Client
	timeout   time.Duration
	maxBytes  int64
	observers []func(Request)
	propagate Propagator
	slot      string
	onOutcome func(outcome string)
	log       zerolog.Logger

	mu     sync.Mutex
	seq    uint64
	req    Request
	cancel context.CancelFunc
}

type ControllerOption func(*Controller)

// WithTimeout fails a generation that has not resolved after d.
func WithTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.timeout = d }
}

// WithMaxSourceBytes rejects larger photos at submission.
func WithMaxSourceBytes(n int64) ControllerOption {
	return func(c *Controller) { c.maxBytes = n }
}

// WithObserver registers fn to be called after every transition.
func WithObserver(fn func(Request)) ControllerOption {
	return func(c *Controller) { c.observers = append(c.observers, fn) }
}

// WithPropagation writes every successful result into slot.
func WithPropagation(p Propagator, slot string) ControllerOption {
	return func(c *Controller) {
		c.propagate = p
		c.slot = slot
	}
}

// WithOutcomeHook is told "complete", "error" or "stale" for every resolved call.
func WithOutcomeHook(fn func(outcome string)) ControllerOption {
	return func(c *Controller) { c.onOutcome = fn }
}

func NewController(client Client, opts ...ControllerOption) *Controller {
	c := &Controller{
		client: client,
		req:    Request{Status: StatusIdle},
		log:    logger.With("generation"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the current request.
func (c *Controller) Snapshot() Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.req
}

// Busy reports whether a request is uploading or generating.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.req.Status.InFlight()
}

// Submit starts a new request for src. It returns once the request has been
// dispatched; completion is observed through Snapshot or an observer.
func (c *Controller) Submit(src Source) (Request, error) {
	c.mu.Lock()
	if c.req.Status.InFlight() {
		req := c.req
		c.mu.Unlock()
		return req, ErrBusy
	}
	if err := CheckSource(src, c.maxBytes); err != nil {
		req := c.req
		c.mu.Unlock()
		return req, err
	}

	c.seq++
	seq := c.seq
	c.req = Request{Seq: seq, Status: StatusUploading, StartedAt: time.Now()}
	uploading := c.req
	c.mu.Unlock()
	c.notify(uploading)

	// Take a private copy so the caller may reuse its buffer.
	accepted := Source{
		Data:        append([]byte(nil), src.Data...),
		ContentType: src.ContentType,
		Filename:    src.Filename,
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), c.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	c.mu.Lock()
	if c.seq != seq {
		// Reset between the two steps.
		c.mu.Unlock()
		cancel()
		return c.Snapshot(), nil
	}
	c.req.Status = StatusGenerating
	c.cancel = cancel
	generating := c.req
	c.mu.Unlock()
	c.notify(generating)

	c.log.Info().Uint64("seq", seq).Str("filename", accepted.Filename).Int("bytes", len(accepted.Data)).Msg("duckify request dispatched")

	go c.run(ctx, cancel, seq, accepted)
	return generating, nil
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, seq uint64, src Source) {
	defer cancel()

	// The client may not honour ctx, so the deadline is enforced here too.
	done := make(chan generated, 1)
	go func() {
		res, err := c.client.Generate(ctx, src)
		done <- generated{res, err}
	}()

	var (
		res Result
		err error
	)
	select {
	case g := <-done:
		res, err = g.res, g.err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		var gerr *GenerationError
		if !errors.As(err, &gerr) || gerr.Kind != KindTimeout {
			err = &GenerationError{Kind: KindTimeout, Message: "timed out waiting for the service", Err: err}
		}
	}

	c.mu.Lock()
	if seq != c.seq {
		c.mu.Unlock()
		c.log.Debug().Uint64("seq", seq).Msg("discarding stale generation result")
		c.outcome("stale")
		return
	}

	c.req.FinishedAt = time.Now()
	c.cancel = nil
	if err != nil {
		c.req.Status = StatusError
		c.req.ErrorKind = KindOf(err)
		c.req.Error = userMessage(err)
	} else if res.Reference == "" {
		c.req.Status = StatusError
		c.req.ErrorKind = KindService
		c.req.Error = userMessage(&GenerationError{Kind: KindService, Message: "empty result"})
	} else {
		c.req.Status = StatusComplete
		c.req.Result = res.Reference
	}
	final := c.req
	c.mu.Unlock()

	if final.Status == StatusError {
		c.log.Warn().Err(err).Uint64("seq", seq).Str("kind", string(final.ErrorKind)).Msg("duckify request failed")
		c.outcome("error")
	} else {
		c.log.Info().Uint64("seq", seq).Dur("took", final.FinishedAt.Sub(final.StartedAt)).Msg("duckify request complete")
		c.outcome("complete")
		c.propagateResult(final.Result)
	}
	c.notify(final)
}

func (c *Controller) propagateResult(ref string) {
	if c.propagate == nil || c.slot == "" {
		return
	}
	var errc <-chan error
	if data, ok := decodeDataURI(ref); ok {
		_, errc = c.propagate.UploadAsset(c.slot, data)
	} else {
		errc = c.propagate.UpdateAsset(c.slot, ref)
	}
	go func() {
		if err := <-errc; err != nil {
			c.log.Warn().Err(err).Str("slot", c.slot).Msg("propagating duckify result failed")
		}
	}()
}

// Reset abandons the active request and returns to IDLE. A late result from
// the abandoned request is discarded.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.seq++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.req = Request{Seq: c.seq, Status: StatusIdle}
	idle := c.req
	c.mu.Unlock()
	c.notify(idle)
}

func (c *Controller) notify(req Request) {
	for _, fn := range c.observers {
		fn(req)
	}
}

func (c *Controller) outcome(o string) {
	if c.onOutcome != nil {
		c.onOutcome(o)
	}
}

func userMessage(err error) string {
	var gerr *GenerationError
	if errors.As(err, &gerr) {
		return gerr.UserMessage()
	}
	return "Something went wrong while duckifying. Please try again."
}

// decodeDataURI returns the payload of a base64 data: URI.
func decodeDataURI(ref string) ([]byte, bool) {
	if !strings.HasPrefix(ref, "data:") {
		return nil, false
	}
	_, payload, found := strings.Cut(ref, ";base64,")
	if !found {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, false
	}
	return data, true
}
