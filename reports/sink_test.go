package reports

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/hobbyhub-chat/types"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func testAudit() Audit {
	return Audit{
		Report: types.Report{
			Id:             "r1",
			ReporterId:     "u1",
			RoomId:         "pottery-general",
			MessageId:      "m1",
			MessageContent: "buy cheap clay",
			Reason:         "Spam",
			Status:         types.ReportStatusPending,
		},
		NotifyUserId: "system",
	}
}

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	s := &KafkaSink{writer: w}
	require.NoError(t, s.Deliver(context.Background(), testAudit()))
	require.Len(t, w.messages, 1)
	assert.Equal(t, "pottery-general", string(w.messages[0].Key))

	decoded := Audit{}
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &decoded))
	assert.Equal(t, testAudit(), decoded)

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestMultiSink(t *testing.T) {
	failing := &KafkaSink{writer: &fakeWriter{err: errors.New("broker down")}}
	ok := &fakeWriter{}
	m := MultiSink{NewLogSink(hclog.NewNullLogger()), failing, &KafkaSink{writer: ok}}
	err := m.Deliver(context.Background(), testAudit())
	assert.EqualError(t, err, "broker down")
	assert.Len(t, ok.messages, 1)
	assert.NoError(t, m.Close())
}
