// Package issues defines the error taxonomy the engine reports
// through the framework-provided issue-reporting facility (out of
// scope; this package is the interface the engine calls and a
// slog-backed default implementation for standalone operation).
package issues

import "log/slog"

// Kind classifies an issue by its origin, per the error-handling
// design.
type Kind string

const (
	KindConfiguration       Kind = "Configuration"
	KindControlCommunication Kind = "ControlCommunication"
	KindDataCommunication   Kind = "DataCommunication"
	KindWordMatch           Kind = "WordMatch"
	KindBufferOverflow      Kind = "BufferOverflow"
	KindFeedbackObserved    Kind = "FeedbackObserved"
)

// Severity is the reported severity of an issue.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// Issue is one structured event surfaced to the issue-reporting
// facility.
type Issue struct {
	Kind     Kind
	Severity Severity
	Message  string
	Err      error
}

// Reporter is the interface the engine calls to surface an issue. The
// application framework is expected to provide its own
// implementation; SlogReporter is a standalone default.
type Reporter interface {
	Report(Issue)
}

// SlogReporter reports issues through log/slog, matching the
// ambient-logging addition to the error-handling design: every
// reported event is also written to the local process log.
type SlogReporter struct {
	log *slog.Logger
}

// NewSlogReporter wraps logger (or slog.Default if nil).
func NewSlogReporter(logger *slog.Logger) *SlogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogReporter{log: logger.With("component", "issues")}
}

// Report logs the issue at the level matching its severity.
func (r *SlogReporter) Report(issue Issue) {
	attrs := []any{"kind", string(issue.Kind)}
	if issue.Err != nil {
		attrs = append(attrs, "error", issue.Err)
	}
	switch issue.Severity {
	case SeverityError:
		r.log.Error(issue.Message, attrs...)
	case SeverityWarning:
		r.log.Warn(issue.Message, attrs...)
	default:
		r.log.Info(issue.Message, attrs...)
	}
}
