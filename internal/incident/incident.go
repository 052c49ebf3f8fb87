package incident

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity classifies how urgent an incident is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Frame is one entry of a parsed stack trace.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line,omitempty"`
	Function string `json:"function,omitempty"`
}

// Incident is the immutable record of a production error that triggers a
// pipeline run. It is created once and never mutated; stages read it through
// the run.
type Incident struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StackTrace   []Frame        `json:"stack_trace,omitempty"`
	Severity     Severity       `json:"severity"`
	Source       string         `json:"source"` // manual, log, alert, github
	CreatedAt    time.Time      `json:"created_at"`
	DetectedAt   time.Time      `json:"detected_at,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

// Option customises an incident built by FromError.
type Option func(*Incident)

// WithSeverity sets the incident severity.
func WithSeverity(s Severity) Option {
	return func(inc *Incident) { inc.Severity = s }
}

// WithSource sets where the error was detected.
func WithSource(source string) Option {
	return func(inc *Incident) { inc.Source = source }
}

// WithContext attaches a key to the free-form context map.
func WithContext(key string, value any) Option {
	return func(inc *Incident) {
		if inc.Context == nil {
			inc.Context = make(map[string]any)
		}
		inc.Context[key] = value
	}
}

// FromError builds an incident from an error message and raw stack trace.
// The trace is parsed into structured frames; the title is the first line of
// the message, truncated to 100 characters.
func FromError(errorMessage, stackTrace string, opts ...Option) *Incident {
	now := time.Now().UTC()

	title := strings.SplitN(errorMessage, "\n", 2)[0]
	if r := []rune(title); len(r) > 100 {
		title = string(r[:100])
	}

	inc := &Incident{
		ID:           newID(now),
		Title:        title,
		Description:  errorMessage,
		ErrorMessage: errorMessage,
		StackTrace:   ParseStack(stackTrace),
		Severity:     SeverityMedium,
		Source:       "log",
		CreatedAt:    now,
		DetectedAt:   now,
	}
	for _, opt := range opts {
		opt(inc)
	}
	return inc
}

// newID returns a unique incident ID. The timestamp prefix keeps IDs sortable
// and readable; the UUID suffix guarantees uniqueness within a second.
func newID(t time.Time) string {
	return fmt.Sprintf("INC-%s-%s", t.Format("20060102150405"), uuid.NewString()[:8])
}

// TopFrame returns the innermost stack frame, or nil if the trace is empty.
func (inc *Incident) TopFrame() *Frame {
	if len(inc.StackTrace) == 0 {
		return nil
	}
	return &inc.StackTrace[0]
}
