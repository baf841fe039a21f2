// Package completion sends compiled prompts to the Gemini generateContent
// endpoint and classifies every way the call can fail.
package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/devhaln/pagepal/backend/internal/model/prompt"
)

const (
	defaultBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel     = "gemini-2.0-flash"
	defaultTimeout   = 60 * time.Second
	maxAttempts      = 3
	baseRetryDelay   = 500 * time.Millisecond
	maxRetryDelay    = 8 * time.Second
	streamBufferSize = 64
)

// Config holds the connection settings for the upstream model.
type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     *float64
	MaxOutputTokens *int
	Timeout         time.Duration
}

// Client talks to the Gemini API over plain HTTP. The request body is
// exactly the compiled prompt; nothing is added or reordered here.
type Client struct {
	apiKey          string
	baseURL         string
	model           string
	temperature     *float64
	maxOutputTokens *int
	httpClient      *http.Client
}

// NewClient builds a client from config, filling in defaults for any
// unset endpoint fields.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:          cfg.APIKey,
		baseURL:         baseURL,
		model:           model,
		temperature:     cfg.Temperature,
		maxOutputTokens: cfg.MaxOutputTokens,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

// Wire types for the generateContent request and response bodies.

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents          []prompt.Content  `json:"contents"`
	SystemInstruction *prompt.Content   `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) buildBody(compiled prompt.CompiledRequest) ([]byte, error) {
	req := generateRequest{Contents: compiled.Contents}
	if compiled.SystemInstruction != "" {
		req.SystemInstruction = &prompt.Content{
			Parts: []prompt.Part{{Text: compiled.SystemInstruction}},
		}
	}
	if c.temperature != nil || c.maxOutputTokens != nil {
		req.GenerationConfig = &generationConfig{
			Temperature:     c.temperature,
			MaxOutputTokens: c.maxOutputTokens,
		}
	}
	return json.Marshal(req)
}

// Send posts the compiled request and returns the reply text. Transient
// failures are retried up to maxAttempts with exponential backoff and
// jitter; credential and request-shape failures return immediately.
func (c *Client) Send(ctx context.Context, compiled prompt.CompiledRequest) (string, error) {
	if c.apiKey == "" {
		return "", &Failure{Kind: KindUnauthorized, Message: "API key not configured"}
	}

	body, err := c.buildBody(compiled)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return "", err
			}
			log.Printf("[completion] retrying attempt %d/%d after: %v", attempt+1, maxAttempts, lastErr)
		}

		text, err := c.doGenerate(ctx, url, body)
		if err == nil {
			return text, nil
		}
		lastErr = err

		var failure *Failure
		if !errors.As(err, &failure) || !failure.Retryable() {
			return "", err
		}
	}
	return "", lastErr
}

func (c *Client) doGenerate(ctx context.Context, url string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", classifyTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Failure{Kind: KindServiceUnavailable, Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return parseReply(respBody)
}

// parseReply extracts the text of the first candidate, distinguishing the
// three shapes of an empty answer.
func parseReply(body []byte) (string, error) {
	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &Failure{Kind: KindNoCandidates, Message: fmt.Sprintf("unparseable response: %v", err)}
	}
	if parsed.Error != nil {
		return "", &Failure{Kind: KindInvalidRequest, Status: parsed.Error.Code, Message: parsed.Error.Message}
	}
	if len(parsed.Candidates) == 0 {
		return "", &Failure{Kind: KindNoCandidates, Message: "response contained no candidates"}
	}
	parts := parsed.Candidates[0].Content.Parts
	if len(parts) == 0 {
		return "", &Failure{Kind: KindNoContentParts, Message: "first candidate had no content parts"}
	}
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	text := b.String()
	if strings.TrimSpace(text) == "" {
		return "", &Failure{Kind: KindEmptyText, Message: "candidate text was empty"}
	}
	return text, nil
}

// Stream posts the compiled request to the streaming endpoint and emits
// reply text chunks as they arrive. The text channel closes when the
// stream ends; at most one error is sent before both channels close.
func (c *Client) Stream(ctx context.Context, compiled prompt.CompiledRequest) (<-chan string, <-chan error) {
	chunks := make(chan string, streamBufferSize)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errc)

		if c.apiKey == "" {
			errc <- &Failure{Kind: KindUnauthorized, Message: "API key not configured"}
			return
		}

		body, err := c.buildBody(compiled)
		if err != nil {
			errc <- fmt.Errorf("marshal request: %w", err)
			return
		}

		url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, c.model, c.apiKey)

		var lastErr error
		for attempt := 0; attempt < maxAttempts; attempt++ {
			if attempt > 0 {
				if err := sleepBackoff(ctx, attempt); err != nil {
					errc <- err
					return
				}
			}

			retryable, err := c.streamOnce(ctx, url, body, chunks)
			if err == nil {
				return
			}
			lastErr = err
			if !retryable {
				errc <- err
				return
			}
		}
		errc <- lastErr
	}()

	return chunks, errc
}

// streamOnce runs a single streaming attempt. It reports retryable=true
// only when nothing has been emitted yet, so a consumer never sees a
// reply restart mid-stream.
func (c *Client) streamOnce(ctx context.Context, url string, body []byte, chunks chan<- string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		failure := classifyTransport(err)
		return failure.Retryable(), failure
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		failure := classifyStatus(resp.StatusCode, strings.TrimSpace(string(respBody)))
		return failure.Retryable(), failure
	}

	emitted := false
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk generateResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return false, &Failure{Kind: KindInvalidRequest, Status: chunk.Error.Code, Message: chunk.Error.Message}
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		for _, part := range chunk.Candidates[0].Content.Parts {
			if part.Text == "" {
				continue
			}
			select {
			case chunks <- part.Text:
				emitted = true
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return !emitted, &Failure{Kind: KindServiceUnavailable, Message: fmt.Sprintf("stream read: %v", err)}
	}
	if !emitted {
		return false, &Failure{Kind: KindEmptyText, Message: "stream produced no text"}
	}
	return false, nil
}

// classifyTransport maps request-level errors. Deadline and timeout errors
// are retryable; everything else at this layer is treated as the service
// being unreachable.
func classifyTransport(err error) *Failure {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Failure{Kind: KindTimeout, Message: err.Error()}
	}
	return &Failure{Kind: KindServiceUnavailable, Message: err.Error()}
}

// backoffDelay returns 2^(attempt-1) * base plus jitter, never exceeding
// maxRetryDelay.
func backoffDelay(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	delay += time.Duration(rand.Int63n(int64(delay) / 2))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

// sleepBackoff waits out the attempt's delay, honoring context cancellation.
func sleepBackoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(backoffDelay(attempt))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
