package app

import (
	"context"
	"fmt"
	"log"

	"github.com/avatara/tutor/internal/brain"
	"github.com/avatara/tutor/internal/config"
	"github.com/avatara/tutor/internal/httpapi"
	"github.com/avatara/tutor/internal/observability"
	"github.com/avatara/tutor/internal/session"
	"github.com/avatara/tutor/internal/transcript"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

// Build wires the whole service: transcript store, model adapter, session
// manager and HTTP API.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace, cfg.PerfWindowSamples)

	transcripts, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	var retrieval *brain.RetrievalConfig
	if cfg.RetrievalConfigured() {
		retrieval = &brain.RetrievalConfig{
			Endpoint:  cfg.AzureSearchEndpoint,
			APIKey:    cfg.AzureSearchAPIKey,
			IndexName: cfg.AzureSearchIndex,
			RoleInfo:  cfg.SystemPrompt,
		}
	}
	adapter, err := brain.NewAdapter(brain.Config{
		Mode:       cfg.ModelAdapterMode,
		Endpoint:   cfg.AzureOpenAIEndpoint,
		APIKey:     cfg.AzureOpenAIAPIKey,
		Deployment: cfg.AzureOpenAIDeployment,
		APIVersion: cfg.AzureOpenAIAPIVersion,
		Retrieval:  retrieval,
	})
	if err != nil {
		_ = transcripts.Close()
		return nil, fmt.Errorf("model adapter init failed: %w", err)
	}

	sessions := session.NewManager(session.ManagerConfig{
		InactivityTimeout: cfg.SessionInactivityTimeout,
		Metrics:           metrics,
		Transcripts:       transcripts,
		Adapter:           adapter,
		SystemPrompt:      cfg.SystemPrompt,
		FailureReply:      cfg.FailureReply,
		// With retrieval active the search layer injects the role framing
		// itself; a local system message would be sent twice.
		SkipSystemMessage: cfg.RetrievalConfigured(),
		RedactTranscripts: cfg.TranscriptRedactPII,
	})
	sessions.SetExpireHook(func(info session.Info) {
		log.Printf("session %s expired after inactivity", info.SessionID)
	})

	api := httpapi.New(cfg, sessions, metrics)

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Metrics:  metrics,
		Cleanup:  transcripts.Close,
	}, nil
}
