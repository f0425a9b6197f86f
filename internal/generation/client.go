package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alxbtnk/duck/internal/store"
	"github.com/alxbtnk/duck/pkg/logger"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DuckifyPrompt is the fixed style directive sent with every source photo.
const DuckifyPrompt = "Redraw this person as a portrait in gritty 1990s adult animated cartoon style, " +
	"bold black outlines, beige texture, flat dirty colors. Keep their face recognisable. " +
	"IMPORTANT: A bright yellow rubber duck sitting on their head."

const maxResponseBytes = 32 << 20

// Source is the user supplied photo.
type Source struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Result is the generated image reference: a URL or a data URI.
type Result struct {
	Reference string
}

// Client turns a source photo into a duckified image.
type Client interface {
	Generate(ctx context.Context, src Source) (Result, error)
}

type generateRequest struct {
	Prompt   string `json:"prompt"`
	Image    string `json:"image"`
	MimeType string `json:"mimeType"`
}

type prediction struct {
	MimeType           string `json:"mimeType"`
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
}

type generateResponse struct {
	URL         string       `json:"url"`
	Image       string       `json:"image"`
	MimeType    string       `json:"mimeType"`
	Predictions []prediction `json:"predictions"`
	Error       string       `json:"error"`
}

// HTTPClient calls a JSON image-to-image endpoint.
type HTTPClient struct {
	endpoint string
	apiKey   string
	prompt   string
	http     *http.Client
	limiter  *rate.Limiter
	log      zerolog.Logger
}

type ClientOption func(*HTTPClient)

func WithPrompt(prompt string) ClientOption {
	return func(c *HTTPClient) {
		if prompt != "" {
			c.prompt = prompt
		}
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) { c.http = hc }
}

// WithRateLimit caps outgoing requests per second to respect upstream quotas.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *HTTPClient) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

func NewHTTPClient(endpoint, apiKey string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		prompt:   DuckifyPrompt,
		http:     &http.Client{Timeout: 2 * time.Minute},
		log:      logger.With("generation.client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) Generate(ctx context.Context, src Source) (Result, error) {
	if err := CheckSource(src, 0); err != nil {
		var verr *ValidationError
		errors.As(err, &verr)
		return Result{}, &GenerationError{Kind: KindInvalidInput, Message: verr.Reason}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Result{}, classifyTransport(ctx, err)
		}
	}

	ct, _ := store.SniffImage(src.Data)
	body, err := json.Marshal(generateRequest{
		Prompt:   c.prompt,
		Image:    base64.StdEncoding.EncodeToString(src.Data),
		MimeType: ct,
	})
	if err != nil {
		return Result{}, &GenerationError{Kind: KindInvalidInput, Message: "could not encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, &GenerationError{Kind: KindNetwork, Message: "bad endpoint", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, classifyTransport(ctx, err)
	}

	c.log.Debug().
		Int("status", resp.StatusCode).
		Int("bytes", len(raw)).
		Dur("latency", time.Since(start)).
		Msg("generation response")

	var parsed generateResponse
	jsonErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if jsonErr == nil && parsed.Error != "" {
			msg = parsed.Error
		}
		return Result{}, &GenerationError{Kind: KindService, StatusCode: resp.StatusCode, Message: msg}
	}
	if jsonErr != nil {
		return Result{}, &GenerationError{Kind: KindService, StatusCode: resp.StatusCode, Message: "unreadable response", Err: jsonErr}
	}
	if parsed.Error != "" {
		return Result{}, &GenerationError{Kind: KindService, StatusCode: resp.StatusCode, Message: parsed.Error}
	}

	ref, err := parsed.reference()
	if err != nil {
		return Result{}, &GenerationError{Kind: KindService, StatusCode: resp.StatusCode, Message: err.Error()}
	}
	return Result{Reference: ref}, nil
}

func (r *generateResponse) reference() (string, error) {
	if r.URL != "" {
		if !store.ValidRemoteURL(r.URL) {
			return "", fmt.Errorf("service returned an invalid url")
		}
		return r.URL, nil
	}

	encoded, mimeType := r.Image, r.MimeType
	if encoded == "" && len(r.Predictions) > 0 {
		encoded, mimeType = r.Predictions[0].BytesBase64Encoded, r.Predictions[0].MimeType
	}
	if encoded == "" {
		return "", fmt.Errorf("service returned no image")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("service returned malformed image data")
	}
	sniffed, ok := store.SniffImage(data)
	if !ok {
		return "", fmt.Errorf("service returned %s instead of an image", sniffed)
	}
	if mimeType == "" {
		mimeType = sniffed
	}
	return "data:" + mimeType + ";base64," + encoded, nil
}

func classifyTransport(ctx context.Context, err error) *GenerationError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &GenerationError{Kind: KindTimeout, Message: "timed out waiting for the service", Err: err}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &GenerationError{Kind: KindTimeout, Message: "timed out waiting for the service", Err: err}
	}
	return &GenerationError{Kind: KindNetwork, Message: "could not reach the service", Err: err}
}

// CheckSource validates a photo before it is sent anywhere. A zero maxBytes disables the size check.
func CheckSource(src Source, maxBytes int64) error {
	if len(src.Data) == 0 {
		return &ValidationError{Reason: "no image provided"}
	}
	if maxBytes > 0 && int64(len(src.Data)) > maxBytes {
		return &ValidationError{Reason: fmt.Sprintf("image is larger than %d KB", maxBytes>>10)}
	}
	if ct, ok := store.SniffImage(src.Data); !ok {
		return &ValidationError{Reason: "expected an image, got " + strings.SplitN(ct, ";", 2)[0]}
	}
	return nil
}
