// Package api provides the HTTP surface of the bridge: probes, stats and
// event ingestion.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"lambdabridge/internal/apperrors"
	"lambdabridge/internal/envelope"
	"lambdabridge/internal/health"
	"lambdabridge/internal/store"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// FieldEventType is the envelope field resolved through routing rules when
// an event arrives without a lambda_arn.
const FieldEventType = "event_type"

// Publisher publishes a trigger envelope.
type Publisher interface {
	Publish(ctx context.Context, subject string, env *envelope.Envelope, delay time.Duration) error
}

// RuleResolver looks up the function an event type routes to.
type RuleResolver interface {
	Get(ctx context.Context, key string) (string, error)
}

// Handler contains HTTP handlers for the bridge API
type Handler struct {
	health         *health.Checker
	stats          func() any
	publisher      Publisher
	rules          RuleResolver
	triggerSubject string
}

// EventResponse is returned for an accepted event.
type EventResponse struct {
	EventID   string `json:"eventId,omitempty"`
	LambdaARN string `json:"lambdaArn"`
	Subject   string `json:"subject"`
}

// Livez handles GET /livez - liveness probe.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 while NATS or either stream is unreachable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// Stats handles GET /stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	h.writeJSON(w, http.StatusOK, h.stats())
}

// PublishEvent handles POST /v1/events. The body is a trigger envelope; an
// envelope without lambda_arn is routed by its event_type. The event always
// starts at retry_index 0.
func (h *Handler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	var env envelope.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if !apperrors.IsPermanent(err) {
			err = apperrors.InvalidEnvelope("body", err.Error())
		}
		h.handleError(w, r, err)
		return
	}
	if env.LambdaARN == "" {
		arn, err := h.route(r.Context(), &env)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		env.LambdaARN = arn
	}
	env.RetryIndex = 0
	env.LambdaRequestID = ""
	if env.EventID == "" {
		env.EventID = uuid.NewString()
	}

	if err := h.publisher.Publish(r.Context(), h.triggerSubject, &env, 0); err != nil {
		h.handleError(w, r, err)
		return
	}

	slog.Info("Event accepted", "eventId", env.EventID, "lambdaArn", env.LambdaARN)
	h.writeJSON(w, http.StatusAccepted, EventResponse{
		EventID:   env.EventID,
		LambdaARN: env.LambdaARN,
		Subject:   h.triggerSubject,
	})
}

// route resolves the function for an envelope's event_type.
func (h *Handler) route(ctx context.Context, env *envelope.Envelope) (string, error) {
	raw, ok := env.ExtraValue(FieldEventType)
	if !ok {
		return "", apperrors.InvalidEnvelope(envelope.FieldLambdaARN, "lambda_arn or event_type is required")
	}
	var eventType string
	if err := json.Unmarshal(raw, &eventType); err != nil || eventType == "" {
		return "", apperrors.InvalidEnvelope(FieldEventType, "event_type must be a non-empty string")
	}
	if h.rules == nil || !store.IsRuleKey(eventType) {
		return "", apperrors.NotFound("rule", eventType)
	}
	arn, err := h.rules.Get(ctx, eventType)
	if err != nil {
		return "", err
	}
	return arn, nil
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError maps classified errors to HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}

func httpStatus(err error) int {
	switch {
	case apperrors.IsPermanent(err):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusUnprocessableEntity
	case apperrors.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
