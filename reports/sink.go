package reports

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/hobbyhub-chat/types"
)

// Audit is a stored report together with the user that should be notified about it (the room creator).
type Audit struct {
	Report       types.Report `json:"report"`
	NotifyUserId string       `json:"notifyUserId,omitempty"`
}

// Sink receives every newly stored report.
type Sink interface {
	Deliver(ctx context.Context, audit Audit) error
	Close() error
}

// LogSink writes an audit record per report to the log.
type LogSink struct {
	logger hclog.Logger
}

func NewLogSink(logger hclog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(ctx context.Context, audit Audit) error {
	r := audit.Report
	s.logger.Info("report submitted",
		"report", r.Id,
		"room", r.RoomId,
		"reporter", r.ReporterId,
		"reported_user", r.ReportedUserId,
		"message", r.MessageId,
		"reason", r.Reason,
		"notify", audit.NotifyUserId,
	)
	return nil
}

func (s *LogSink) Close() error {
	return nil
}

// MultiSink delivers to all sinks. Every sink is tried, the first error is returned.
type MultiSink []Sink

func (m MultiSink) Deliver(ctx context.Context, audit Audit) error {
	var firstErr error
	for _, s := range m {
		if err := s.Deliver(ctx, audit); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m MultiSink) Close() error {
	var firstErr error
	for _, s := range m {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
