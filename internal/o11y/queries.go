package o11y

import (
	"fmt"
	"strings"
)

// Canned queries used by the Investigator. Service is the job/service label
// value from config; an empty service falls back to unfiltered queries.

// ErrorRateQuery returns a PromQL expression for the service's 5xx rate over
// five-minute windows.
func ErrorRateQuery(service string) string {
	if service == "" {
		return `sum(rate(http_requests_total{status=~"5.."}[5m]))`
	}
	return fmt.Sprintf(`sum(rate(http_requests_total{service=%q,status=~"5.."}[5m]))`, service)
}

// LatencyQuery returns a PromQL expression for the service's p99 latency.
func LatencyQuery(service string) string {
	if service == "" {
		return `histogram_quantile(0.99, sum(rate(http_request_duration_seconds_bucket[5m])) by (le))`
	}
	return fmt.Sprintf(
		`histogram_quantile(0.99, sum(rate(http_request_duration_seconds_bucket{service=%q}[5m])) by (le))`,
		service,
	)
}

// ErrorLogsQuery returns a LogQL expression matching error-level lines,
// optionally narrowed to lines containing the incident's error message.
func ErrorLogsQuery(service, errorMessage string) string {
	sel := `{level="error"}`
	if service != "" {
		sel = fmt.Sprintf(`{service=%q, level="error"}`, service)
	}
	needle := firstLine(errorMessage)
	if needle == "" {
		return sel
	}
	return fmt.Sprintf(`%s |= %q`, sel, needle)
}

func firstLine(s string) string {
	s = strings.TrimSpace(strings.SplitN(s, "\n", 2)[0])
	// LogQL line filters choke on very long needles; keep it short.
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}
