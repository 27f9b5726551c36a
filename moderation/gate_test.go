package moderation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/tcriess/hobbyhub-chat/config"
)

type fakeClassifier struct {
	calls  int32
	result Classification
	err    error
	block  bool
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.block {
		<-ctx.Done()
		return Classification{}, ctx.Err()
	}
	return f.result, f.err
}

func testModerationConfig() config.ModerationConfig {
	return config.ModerationConfig{
		DenyList:           config.DefaultDenyList,
		Timeout:            20 * time.Millisecond,
		BreakerMaxFailures: 3,
		BreakerOpenTimeout: time.Minute,
	}
}

func TestLexicalStageRejectsRegardlessOfClassifier(t *testing.T) {
	for _, classifier := range []*fakeClassifier{
		{result: Classification{Safe: true}},
		{err: errors.New("unreachable")},
		{block: true},
	} {
		g := NewGate(testModerationConfig(), classifier, hclog.NewNullLogger())
		v := g.Evaluate(context.Background(), "let's discuss POLITICS")
		assert.False(t, v.Accepted)
		assert.Equal(t, TopicBlockedReason, v.Reason)
		assert.Equal(t, StageLexical, v.Stage)
		assert.Equal(t, int32(0), atomic.LoadInt32(&classifier.calls))
	}
	g := NewGate(testModerationConfig(), nil, hclog.NewNullLogger())
	v := g.Evaluate(context.Background(), "Religion in ceramics")
	assert.False(t, v.Accepted)
	assert.Equal(t, TopicBlockedReason, v.Reason)
}

func TestClassifierRejects(t *testing.T) {
	classifier := &fakeClassifier{result: Classification{Safe: false, Reason: "harassment"}}
	g := NewGate(testModerationConfig(), classifier, hclog.NewNullLogger())
	v := g.Evaluate(context.Background(), "you are terrible at glazing")
	assert.False(t, v.Accepted)
	assert.Equal(t, ClassifierBlockedReason, v.Reason)
	assert.Equal(t, StageClassifier, v.Stage)
	assert.Equal(t, "harassment", v.Detail)
}

func TestFailOpen(t *testing.T) {
	v := NewGate(testModerationConfig(), nil, hclog.NewNullLogger()).Evaluate(context.Background(), "I love ceramics")
	assert.True(t, v.Accepted)
	assert.False(t, v.FailedOpen)

	v = NewGate(testModerationConfig(), &fakeClassifier{err: errors.New("unreachable")}, hclog.NewNullLogger()).
		Evaluate(context.Background(), "I love ceramics")
	assert.True(t, v.Accepted)
	assert.True(t, v.FailedOpen)

	start := time.Now()
	v = NewGate(testModerationConfig(), &fakeClassifier{block: true}, hclog.NewNullLogger()).
		Evaluate(context.Background(), "I love ceramics")
	assert.True(t, v.Accepted)
	assert.True(t, v.FailedOpen)
	assert.True(t, time.Since(start) < time.Second)
}

// stubbornClassifier ignores its context and answers "unsafe" once released.
type stubbornClassifier struct {
	release chan struct{}
}

func (s *stubbornClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	<-s.release
	return Classification{Safe: false, Reason: "too late"}, nil
}

func TestTimeoutWithClassifierIgnoringContext(t *testing.T) {
	classifier := &stubbornClassifier{release: make(chan struct{})}
	defer close(classifier.release)
	g := NewGate(testModerationConfig(), classifier, hclog.NewNullLogger())

	start := time.Now()
	v := g.Evaluate(context.Background(), "I love ceramics")
	assert.True(t, v.Accepted)
	assert.True(t, v.FailedOpen)
	assert.Empty(t, v.Reason)
	assert.True(t, time.Since(start) < time.Second, "took %s", time.Since(start))
}

func TestBreakerSkipsClassifierWhenOpen(t *testing.T) {
	classifier := &fakeClassifier{err: errors.New("unreachable")}
	g := NewGate(testModerationConfig(), classifier, hclog.NewNullLogger())
	for i := 0; i < 10; i++ {
		v := g.Evaluate(context.Background(), "kiln temperatures")
		assert.True(t, v.Accepted)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&classifier.calls))
}

func TestMatchDenyList(t *testing.T) {
	g := NewGate(config.ModerationConfig{DenyList: []string{" Politics ", ""}}, nil, hclog.NewNullLogger())
	word, ok := g.MatchDenyList("geopolitics of clay")
	assert.True(t, ok)
	assert.Equal(t, "politics", word)
	_, ok = g.MatchDenyList("wheel throwing")
	assert.False(t, ok)
}

func TestMatchHobby(t *testing.T) {
	g := NewGate(testModerationConfig(), nil, hclog.NewNullLogger())
	word, ok := g.MatchHobby("religious-studies")
	assert.True(t, ok)
	assert.Equal(t, "religious studies", word)
	_, ok = g.MatchHobby("Politics debates")
	assert.True(t, ok)
	_, ok = g.MatchHobby("jewellery-making")
	assert.False(t, ok)
}
