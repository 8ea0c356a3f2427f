package metrics

import (
	"time"

	obserrors "github.com/code4history/IIIF-MCP/internal/observability/errors"
	"github.com/code4history/IIIF-MCP/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultReused  = "reused"
)

// Session events reported through EmitSessionEvent.
const (
	SessionStored  = "stored"
	SessionEvicted = "evicted"
	SessionExpired = "expired"
)

// FlowMetric captures the outcome of a single authentication attempt.
type FlowMetric struct {
	AuthType string
	Result   string
	Duration time.Duration
	Err      error
}

// EmitAuthFlow emits standardised authentication flow metrics.
func EmitAuthFlow(sink statsd.Sink, in FlowMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"auth_type": in.AuthType,
		"result":    in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("auth.flow", 1, tags)

	if in.Duration > 0 {
		sink.Timing("auth.flow.duration", in.Duration, CloneTags(tags))
	}
}

// EmitSessionEvent counts a session store transition.
func EmitSessionEvent(sink statsd.Sink, event string) {
	if sink == nil || event == "" {
		return
	}
	sink.Count("auth.session", 1, map[string]string{"event": event})
}

// ResourceMetric captures an authenticated resource access.
type ResourceMetric struct {
	Operation string
	Result    string
	Duration  time.Duration
	Err       error
}

// EmitResourceAccess emits metrics for protected resource fetches and probes.
func EmitResourceAccess(sink statsd.Sink, in ResourceMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"operation": in.Operation,
		"result":    in.Result,
	}
	if in.Err != nil {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("resource.access", 1, tags)
	if in.Duration > 0 {
		sink.Timing("resource.access.duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
