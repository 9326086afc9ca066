package openrouter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"image-edit-service/internal/domain"
	"image-edit-service/internal/domain/ports/adapter"
	"image-edit-service/internal/infra/metrics"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.ImageGenerationAdapter = (*Client)(nil)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "google/gemini-2.5-flash-image-preview:free"

	// Generic fall-through scan of the fallback payload stops here.
	maxScanDepth = 16
)

var urlPattern = regexp.MustCompile(`https?://\S+`)

// Options configures the OpenRouter client. Zero values fall back to
// production defaults; tests shrink the backoff to keep retries fast.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	HTTPReferer string
	XTitle      string
	HTTPClient  *http.Client
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Client calls OpenRouter's OpenAI-compatible gateway and normalizes its
// heterogeneous reply shapes into raw image bytes. Transient failures are
// retried with jittered exponential backoff; actionable failures return
// immediately.
type Client struct {
	apiKey      string
	base        string
	model       string
	referer     string
	title       string
	client      *http.Client
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	log         *zerolog.Logger
}

func NewClient(opts Options, log *zerolog.Logger) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openrouter api key empty")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 8 * time.Second
	}
	return &Client{
		apiKey:      opts.APIKey,
		base:        strings.TrimRight(opts.BaseURL, "/"),
		model:       opts.Model,
		referer:     opts.HTTPReferer,
		title:       opts.XTitle,
		client:      opts.HTTPClient,
		maxAttempts: opts.MaxAttempts,
		backoffBase: opts.BackoffBase,
		backoffCap:  opts.BackoffCap,
		log:         log,
	}, nil
}

// GenerateImage runs the two-call resolution under the retry policy. Only
// transient failures are retried; the last one is surfaced when attempts are
// exhausted.
func (c *Client) GenerateImage(ctx context.Context, req adapter.GenerationRequest) ([]byte, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, domain.Actionable("prompt is empty")
	}
	if req.Model == "" {
		req.Model = c.model
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		start := time.Now()
		data, err := c.resolveOnce(ctx, req)
		latency := time.Since(start)
		if err == nil {
			metrics.ObserveUpstreamCall(req.Model, "success", latency)
			return data, nil
		}
		if !domain.IsTransient(err) {
			metrics.ObserveUpstreamCall(req.Model, "actionable", latency)
			return nil, err
		}
		metrics.ObserveUpstreamCall(req.Model, "transient", latency)
		lastErr = err
		if attempt == c.maxAttempts {
			break
		}
		wait := c.backoffDelay(attempt)
		c.log.Warn().Err(err).
			Str("model", req.Model).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("upstream call failed, retrying")
		select {
		case <-ctx.Done():
			return nil, domain.TransientWrap(ctx.Err(), "generation canceled")
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

// backoffDelay picks a uniform random wait in [0, base*2^(attempt-1)],
// capped at the configured ceiling.
func (c *Client) backoffDelay(attempt int) time.Duration {
	ceil := c.backoffBase << (attempt - 1)
	if ceil > c.backoffCap {
		ceil = c.backoffCap
	}
	return time.Duration(rand.Int63n(int64(ceil) + 1))
}

// resolveOnce performs one full resolution pass: chat call, then the
// responses-API fallback when the chat reply carried no image payload.
func (c *Client) resolveOnce(ctx context.Context, req adapter.GenerationRequest) ([]byte, error) {
	raw, err := c.call(ctx, "/chat/completions", c.chatBody(req), req.Headers)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Choices []struct {
			Message struct {
				Content json.RawMessage `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, domain.ActionableWrap(err, "malformed response from upstream")
	}
	if len(payload.Choices) == 0 {
		return nil, domain.Actionable("malformed response from upstream: no choices")
	}

	content := payload.Choices[0].Message.Content
	if string(content) == "null" {
		content = nil
	}

	// Plain-text content: the only image reference can be an embedded URL.
	var text string
	if len(content) > 0 && json.Unmarshal(content, &text) == nil {
		url := urlPattern.FindString(text)
		if url == "" {
			return nil, domain.Actionable("upstream returned text content without an image URL")
		}
		return c.fetchBytes(ctx, url)
	}

	// Part-list content: first extractable part wins.
	var parts []contentPart
	if len(content) > 0 && json.Unmarshal(content, &parts) == nil {
		data, err := c.extractFromParts(ctx, parts)
		if err != nil {
			return nil, err
		}
		if len(data) > 0 {
			return data, nil
		}
	}

	data, err := c.responsesFallback(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		return data, nil
	}
	return nil, domain.Actionable("upstream did not include an image payload")
}

// chatBody builds the chat-completions request. Part order is significant:
// text, then the initial image, then the reference image.
func (c *Client) chatBody(req adapter.GenerationRequest) map[string]any {
	parts := []map[string]any{{"type": "text", "text": req.Prompt}}
	if req.InitialURL != "" {
		parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]any{"url": req.InitialURL}})
	}
	if req.ReferenceURL != "" {
		parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]any{"url": req.ReferenceURL}})
	}
	body := map[string]any{
		"model":    req.Model,
		"messages": []map[string]any{{"role": "user", "content": parts}},
	}
	for k, v := range req.ExtraParams {
		body[k] = v
	}
	return body
}

type contentPart struct {
	Type     string          `json:"type"`
	ImageURL json.RawMessage `json:"image_url"`
	B64JSON  string          `json:"b64_json"`
	B64      string          `json:"b64"`
}

// extractFromParts scans parts in order and returns the first payload. Parts
// that cannot be extracted are skipped; URL-fetch failures propagate because
// they already carry a transient/actionable classification.
func (c *Client) extractFromParts(ctx context.Context, parts []contentPart) ([]byte, error) {
	for _, p := range parts {
		if p.Type == "image_url" || p.Type == "output_image" {
			if url := partURL(p.ImageURL); url != "" {
				return c.fetchBytes(ctx, url)
			}
		}
		b64 := p.B64JSON
		if b64 == "" {
			b64 = p.B64
		}
		if b64 != "" {
			data, err := base64.StdEncoding.DecodeString(b64)
			if err != nil {
				c.log.Debug().Err(err).Msg("skipping part with undecodable base64")
				continue
			}
			return data, nil
		}
	}
	return nil, nil
}

// partURL accepts both image_url shapes: a bare string and {"url": "..."}.
func partURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		URL string `json:"url"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.URL
	}
	return ""
}

// responsesFallback issues the generic multimodal "responses" call and scans
// its payload for an image.
func (c *Client) responsesFallback(ctx context.Context, req adapter.GenerationRequest) ([]byte, error) {
	parts := []map[string]any{{"type": "input_text", "text": req.Prompt}}
	if req.InitialURL != "" {
		parts = append(parts, map[string]any{"type": "input_image", "image_url": map[string]any{"url": req.InitialURL}})
	}
	if req.ReferenceURL != "" {
		parts = append(parts, map[string]any{"type": "input_image", "image_url": map[string]any{"url": req.ReferenceURL}})
	}
	body := map[string]any{
		"model": req.Model,
		"input": []map[string]any{{"role": "user", "content": parts}},
	}
	for k, v := range req.ExtraParams {
		body[k] = v
	}

	raw, err := c.call(ctx, "/responses", body, req.Headers)
	if err != nil {
		return nil, err
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, nil
	}
	return c.deepFindImage(ctx, tree, 0)
}

// deepFindImage walks an arbitrary decoded payload depth-first. At any
// mapping a non-empty b64_json wins, then image_url.url; map keys are visited
// in sorted order so the scan is deterministic.
func (c *Client) deepFindImage(ctx context.Context, v any, depth int) ([]byte, error) {
	if depth > maxScanDepth {
		return nil, nil
	}
	switch node := v.(type) {
	case map[string]any:
		if b64, ok := node["b64_json"].(string); ok && b64 != "" {
			data, err := base64.StdEncoding.DecodeString(b64)
			if err != nil {
				return nil, domain.ActionableWrap(err, "failed to decode base64 image from upstream")
			}
			return data, nil
		}
		if iu, ok := node["image_url"].(map[string]any); ok {
			if url, ok := iu["url"].(string); ok && url != "" {
				return c.fetchBytes(ctx, url)
			}
		}
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			data, err := c.deepFindImage(ctx, node[k], depth+1)
			if err != nil {
				return nil, err
			}
			if len(data) > 0 {
				return data, nil
			}
		}
	case []any:
		for _, item := range node {
			data, err := c.deepFindImage(ctx, item, depth+1)
			if err != nil {
				return nil, err
			}
			if len(data) > 0 {
				return data, nil
			}
		}
	}
	return nil, nil
}

// call POSTs a JSON body and classifies the provider-level outcome. A
// "model not found" condition is actionable; every other failure without a
// more specific classification is transient.
func (c *Client) call(ctx context.Context, path string, body map[string]any, extraHeaders map[string]string) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, domain.ActionableWrap(err, "encode provider request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return nil, domain.ActionableWrap(err, "build provider request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domain.TransientWrap(err, "provider request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.TransientWrap(err, "read provider response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.Actionable("model not available: check model name or your access")
	case resp.StatusCode >= 400:
		if strings.Contains(strings.ToLower(string(raw)), "model not found") {
			return nil, domain.Actionable("model not available: check model name or your access")
		}
		return nil, domain.Transient("provider returned http %d", resp.StatusCode)
	}
	return raw, nil
}

// fetchBytes downloads a referenced image. 429 and 5xx stay retryable; any
// other non-2xx means the reference itself is bad.
func (c *Client) fetchBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.ActionableWrap(err, "invalid image url %q", url)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domain.TransientWrap(err, "image url fetch failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, domain.Transient("upstream url fetch failed: http %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, domain.Actionable("failed to fetch image url: http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.TransientWrap(err, "read image bytes")
	}
	if len(data) == 0 {
		return nil, domain.Actionable("image url returned an empty body")
	}
	return data, nil
}

// String identifies the adapter in logs.
func (c *Client) String() string {
	return fmt.Sprintf("openrouter(%s)", c.model)
}
