// Package observability provides metrics, tracing, and logging utilities.
package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrStage   = "stage"
	attrKind    = "kind"
	attrOutcome = "outcome"
	attrResult  = "result"
	attrRetry   = "retry_index"
)

// Pipeline stages.
const (
	StageDispatch = "dispatch"
	StageVerify   = "verify"
)

// Terminal outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeExhausted = "exhausted"
)

// Notification results.
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
	ResultDropped   = "dropped"
	ResultRequeued  = "requeued"
)

// knownPaths are the routes served by the API; anything else is "other".
var knownPaths = map[string]bool{
	"/livez":   true,
	"/readyz":  true,
	"/healthz": true,
	"/stats":   true,
	"/metrics": true,
}

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	group := fmt.Sprintf("%dxx", code/100)
	return attribute.String(attrStatus, group)
}

func stageAttr(stage string) attribute.KeyValue {
	return attribute.String(attrStage, stage)
}

func kindAttr(kind string) attribute.KeyValue {
	return attribute.String(attrKind, kind)
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

func resultAttr(result string) attribute.KeyValue {
	return attribute.String(attrResult, result)
}

func retryAttr(index uint) attribute.KeyValue {
	return attribute.Int(attrRetry, int(index))
}

// normalizePath bounds path cardinality to the served routes.
func normalizePath(path string) string {
	if knownPaths[path] {
		return path
	}
	return "other"
}
