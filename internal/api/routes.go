package api

import (
	"lambdabridge/internal/health"
	"lambdabridge/internal/observability"
	"net/http"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Metrics        *observability.Metrics
	HealthChecker  *health.Checker
	Stats          func() any
	Publisher      Publisher
	Rules          RuleResolver
	TriggerSubject string
	APIKey         string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := &Handler{
		health:         cfg.HealthChecker,
		stats:          cfg.Stats,
		publisher:      cfg.Publisher,
		rules:          cfg.Rules,
		triggerSubject: cfg.TriggerSubject,
	}

	mux := http.NewServeMux()

	// Probes are unauthenticated.
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	auth := AuthMiddleware(cfg.APIKey)
	mux.Handle("GET /stats", auth(http.HandlerFunc(handler.Stats)))
	if cfg.Publisher != nil {
		mux.Handle("POST /v1/events", auth(http.HandlerFunc(handler.PublishEvent)))
	}

	mws := []Middleware{RecoveryMiddleware(), LoggingMiddleware()}
	if cfg.Metrics != nil {
		mws = append(mws, MetricsMiddleware(cfg.Metrics))
	}
	mws = append(mws, ContentTypeMiddleware())
	return chain(mux, mws...)
}
