package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message is one history entry as the model backend sees it.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries one turn's worth of context to the model backend.
type Request struct {
	SessionID string
	TurnID    string
	Messages  []Message
}

// Reply is the final aggregated text after streaming deltas.
type Reply struct {
	Text string
}

// DeltaHandler receives streamed text fragments in arrival order. Returning
// an error aborts the stream.
type DeltaHandler func(delta string) error

// Adapter is the model-response collaborator. Implementations own the wire
// protocol, timeouts and retry policy; the session only consumes fragments
// and a terminal success or failure.
type Adapter interface {
	StreamReply(ctx context.Context, req Request, onDelta DeltaHandler) (Reply, error)
}

// RetrievalConfig points the backend at an Azure AI Search index ("on your
// data"). When set, requests carry the data-source block and the search layer
// injects role framing itself.
type RetrievalConfig struct {
	Endpoint  string
	APIKey    string
	IndexName string
	RoleInfo  string
}

func (r *RetrievalConfig) Enabled() bool {
	return r != nil && r.Endpoint != "" && r.APIKey != "" && r.IndexName != ""
}

// Config controls adapter construction.
type Config struct {
	Mode       string
	Endpoint   string
	APIKey     string
	Deployment string
	APIVersion string
	Retrieval  *RetrievalConfig
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.Endpoint) != "" && strings.TrimSpace(cfg.APIKey) != "" {
			return NewHTTPAdapter(cfg), nil
		}
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.Endpoint) == "" {
			return nil, errors.New("model endpoint is required for http mode")
		}
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("model api key is required for http mode")
		}
		return NewHTTPAdapter(cfg), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported model adapter mode %q", cfg.Mode)
	}
}
