package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/tcriess/hobbyhub-chat/apperrors"
	"github.com/tcriess/hobbyhub-chat/metrics"
	"github.com/tcriess/hobbyhub-chat/reports"
	"github.com/tcriess/hobbyhub-chat/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func snapshot(msg types.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	if msg.Attachment != nil {
		name := msg.Attachment.Name
		if name == "" {
			name = msg.Attachment.Kind
		}
		return fmt.Sprintf("[%s: %s]", msg.Attachment.Kind, name)
	}
	return ""
}

func fingerprint(report types.Report) (string, error) {
	h, err := hashstructure.Hash(report, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h), nil
}

// SubmitReport stores a report against a message or a room and hands it to the report sink. It is not
// moderated. The reported message's content is captured at submit time, so the report survives trimming of the
// room log. Submitting the same report (reporter, room, message, reason) twice returns the stored one.
func (s *Service) SubmitReport(ctx context.Context, report types.Report) (*types.Report, error) {
	ctx, span := s.tracer.Start(ctx, "chat.SubmitReport", trace.WithAttributes(
		attribute.String("room", report.RoomId),
		attribute.String("reporter", report.ReporterId),
	))
	defer span.End()

	report.ReporterId = strings.TrimSpace(report.ReporterId)
	report.RoomId = strings.TrimSpace(report.RoomId)
	report.Reason = strings.TrimSpace(report.Reason)
	switch {
	case report.ReporterId == "":
		return nil, apperrors.NewValidationError("reporter is required")
	case report.RoomId == "":
		return nil, apperrors.NewValidationError("room is required")
	case report.Reason == "":
		return nil, apperrors.NewValidationError("reason is required")
	}

	if report.MessageId != "" {
		msgs, err := s.persister.GetMessages(report.RoomId)
		if err != nil {
			return nil, err
		}
		for _, msg := range msgs {
			if msg.Id != report.MessageId {
				continue
			}
			report.MessageContent = snapshot(msg)
			if report.ReportedUserId == "" {
				report.ReportedUserId = msg.SenderId
				report.ReportedUserName = msg.SenderName
			}
			break
		}
	}

	fp, err := fingerprint(report)
	if err != nil {
		return nil, err
	}

	s.reportLock.Lock()
	existing, err := s.persister.GetReports()
	if err != nil {
		s.reportLock.Unlock()
		return nil, err
	}
	for _, r := range existing {
		if r.Fingerprint == fp {
			s.reportLock.Unlock()
			s.logger.Debug("duplicate report", "report", r.Id, "room", r.RoomId)
			return r, nil
		}
	}
	report.Id = uuid.NewString()
	report.Fingerprint = fp
	report.Timestamp = s.nowMillis()
	report.Status = types.ReportStatusPending
	err = s.persister.StoreReport(report)
	s.reportLock.Unlock()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.Reports.Inc()

	audit := reports.Audit{Report: report}
	if room, err := s.rooms.GetRoom(report.RoomId); err == nil {
		audit.NotifyUserId = room.CreatedBy
	}
	if err := s.sink.Deliver(ctx, audit); err != nil {
		s.logger.Warn("could not deliver report", "report", report.Id, "error", err)
	}
	return &report, nil
}
