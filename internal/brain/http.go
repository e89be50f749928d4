package brain

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/avatara/tutor/internal/reliability"
)

const (
	defaultAPIVersion   = "2024-08-01-preview"
	retrievalAPIVersion = "2024-02-15-preview"
	maxReplyTokens      = 800
	replyTemperature    = 0.7

	retryMax         = 2
	retryBackoffBase = 300 * time.Millisecond
	retryBackoffCap  = 2 * time.Second
)

// Citation markers like [doc1] that the retrieval extension injects; they are
// noise when spoken aloud.
var docRefPattern = regexp.MustCompile(`\[doc\d+\]`)

// HTTPAdapter streams chat completions from an Azure OpenAI deployment.
type HTTPAdapter struct {
	endpoint   string
	apiKey     string
	deployment string
	apiVersion string
	retrieval  *RetrievalConfig
	client     *http.Client
}

func NewHTTPAdapter(cfg Config) *HTTPAdapter {
	version := strings.TrimSpace(cfg.APIVersion)
	if version == "" {
		version = defaultAPIVersion
		if cfg.Retrieval.Enabled() {
			version = retrievalAPIVersion
		}
	}
	return &HTTPAdapter{
		endpoint:   strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		deployment: strings.TrimSpace(cfg.Deployment),
		apiVersion: version,
		retrieval:  cfg.Retrieval,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type chatRequest struct {
	Messages    []Message    `json:"messages"`
	Stream      bool         `json:"stream"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature float64      `json:"temperature"`
	DataSources []dataSource `json:"data_sources,omitempty"`
}

type dataSource struct {
	Type       string               `json:"type"`
	Parameters dataSourceParameters `json:"parameters"`
}

type dataSourceParameters struct {
	Endpoint        string         `json:"endpoint"`
	Authentication  dataSourceAuth `json:"authentication"`
	IndexName       string         `json:"index_name"`
	QueryType       string         `json:"query_type"`
	InScope         bool           `json:"in_scope"`
	RoleInformation string         `json:"role_information,omitempty"`
}

type dataSourceAuth struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// StreamReply opens the streamed completion and forwards each content delta
// in arrival order. Retryable upstream statuses are retried with capped
// backoff, but only before the first delta has been delivered: the session
// never sees a partially replayed stream.
func (a *HTTPAdapter) StreamReply(ctx context.Context, req Request, onDelta DeltaHandler) (Reply, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		reply, delivered, err := a.streamOnce(ctx, req, onDelta)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		var status statusError
		retryable := errors.As(err, &status) && reliability.IsRetryableHTTPStatus(status.code)
		if !retryable || delivered || attempt >= retryMax {
			return Reply{}, lastErr
		}

		select {
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		case <-time.After(reliability.ExponentialBackoff(attempt, retryBackoffBase, retryBackoffCap)):
		}
	}
}

func (a *HTTPAdapter) streamOnce(ctx context.Context, req Request, onDelta DeltaHandler) (Reply, bool, error) {
	body := chatRequest{
		Messages:    req.Messages,
		Stream:      true,
		MaxTokens:   maxReplyTokens,
		Temperature: replyTemperature,
	}
	if a.retrieval.Enabled() {
		body.DataSources = []dataSource{{
			Type: "azure_search",
			Parameters: dataSourceParameters{
				Endpoint: a.retrieval.Endpoint,
				Authentication: dataSourceAuth{
					Type: "api_key",
					Key:  a.retrieval.APIKey,
				},
				IndexName:       a.retrieval.IndexName,
				QueryType:       "simple",
				InScope:         true,
				RoleInformation: a.retrieval.RoleInfo,
			},
		}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Reply{}, false, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.completionsURL(), bytes.NewReader(payload))
	if err != nil {
		return Reply{}, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", a.apiKey)

	res, err := a.client.Do(httpReq)
	if err != nil {
		return Reply{}, false, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Reply{}, false, statusError{code: res.StatusCode, detail: strings.TrimSpace(string(detail))}
	}

	return a.consumeStream(res.Body, onDelta)
}

func (a *HTTPAdapter) consumeStream(body io.Reader, onDelta DeltaHandler) (Reply, bool, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	delivered := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "[DONE]" {
			break
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			// Keep-alives and vendor extensions show up as non-chunk lines.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if a.retrieval.Enabled() {
			delta = docRefPattern.ReplaceAllString(delta, "")
		}
		if delta == "" {
			continue
		}

		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return Reply{}, delivered, err
			}
		}
		delivered = true
	}
	if err := scanner.Err(); err != nil {
		return Reply{}, delivered, fmt.Errorf("stream read: %w", err)
	}

	return Reply{Text: out.String()}, delivered, nil
}

func (a *HTTPAdapter) completionsURL() string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		a.endpoint, a.deployment, a.apiVersion)
}

type statusError struct {
	code   int
	detail string
}

func (e statusError) Error() string {
	if e.detail == "" {
		return fmt.Sprintf("model backend status %d", e.code)
	}
	return fmt.Sprintf("model backend status %d: %s", e.code, e.detail)
}
