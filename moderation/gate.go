package moderation

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/sony/gobreaker"
	"github.com/tcriess/hobbyhub-chat/apperrors"
	"github.com/tcriess/hobbyhub-chat/config"
	"github.com/tcriess/hobbyhub-chat/metrics"
)

const (
	// TopicBlockedReason is the fixed reason of a lexical deny-list match.
	TopicBlockedReason = "This topic is not allowed."
	// ClassifierBlockedReason is returned when the remote classifier marks a message unsafe.
	ClassifierBlockedReason = "Message blocked by AI."
	// RestrictedHobbyReason rejects hobby names and topics that match the deny list.
	RestrictedHobbyReason = "This hobby name contains restricted topics (Religion/Politics)."

	StageLexical    = "lexical"
	StageClassifier = "classifier"

	defaultTimeout = 5 * time.Second
)

// Classification is the verdict of the remote content-safety service.
type Classification struct {
	Safe   bool
	Reason string
}

// Classifier is a remote content-safety service. It may block, fail or time out.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// Verdict is the outcome of Gate.Evaluate. Reason and Stage are set for rejections only, Detail carries the
// classifier's own explanation if it gave one.
type Verdict struct {
	Accepted   bool
	Reason     string
	Stage      string
	Detail     string
	FailedOpen bool
}

// Gate is the two stage moderation pipeline: a case-insensitive deny-list substring match, followed by the remote
// classifier.
//
// The classifier stage fails open. If no classifier is configured, the call fails, times out or the circuit
// breaker is open, the message is accepted. Chat availability is preferred over moderation coverage while the
// classifier is degraded.
//
// Only text is moderated. Attachments (images, files, stickers, GIFs) never reach the gate.
type Gate struct {
	denyList   []string
	classifier Classifier
	timeout    time.Duration
	breaker    *gobreaker.CircuitBreaker
	logger     hclog.Logger
}

// NewGate creates a gate. classifier may be nil, in which case only the lexical stage is applied.
func NewGate(cfg config.ModerationConfig, classifier Classifier, logger hclog.Logger) *Gate {
	denyList := make([]string, 0, len(cfg.DenyList))
	for _, word := range cfg.DenyList {
		word = strings.ToLower(strings.TrimSpace(word))
		if word != "" {
			denyList = append(denyList, word)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	g := &Gate{
		denyList:   denyList,
		classifier: classifier,
		timeout:    timeout,
		logger:     logger,
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "classifier",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return g
}

// MatchDenyList returns the first deny-listed keyword contained in text.
func (g *Gate) MatchDenyList(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, word := range g.denyList {
		if strings.Contains(lower, word) {
			return word, true
		}
	}
	return "", false
}

type classifyResult struct {
	classification Classification
	err            error
}

// classify bounds the classifier call by the gate timeout even if the classifier ignores its context. A verdict
// arriving after the deadline is discarded.
func (g *Gate) classify(ctx context.Context, text string) (Classification, error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	done := make(chan classifyResult, 1)
	go func() {
		c, err := g.classifier.Classify(cctx, text)
		done <- classifyResult{classification: c, err: err}
	}()
	select {
	case r := <-done:
		return r.classification, r.err
	case <-cctx.Done():
		return Classification{}, cctx.Err()
	}
}

// MatchHobby is MatchDenyList for hobby names and topic ids, whose words may be joined by dashes.
func (g *Gate) MatchHobby(hobby string) (string, bool) {
	return g.MatchDenyList(strings.ReplaceAll(hobby, "-", " "))
}

// Evaluate runs both stages on text. The lexical stage always runs first and never suspends.
func (g *Gate) Evaluate(ctx context.Context, text string) Verdict {
	if word, ok := g.MatchDenyList(text); ok {
		g.logger.Debug("deny-list match", "keyword", word)
		return Verdict{Accepted: false, Reason: TopicBlockedReason, Stage: StageLexical}
	}
	if g.classifier == nil || strings.TrimSpace(text) == "" {
		return Verdict{Accepted: true}
	}

	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.classify(ctx, text)
	})
	if err != nil {
		metrics.ClassifierFailOpen.Inc()
		g.logger.Warn("classifier unavailable, accepting message", "error", apperrors.NewUpstreamError("classifier", err))
		return Verdict{Accepted: true, FailedOpen: true}
	}
	classification := res.(Classification)
	if !classification.Safe {
		return Verdict{Accepted: false, Reason: ClassifierBlockedReason, Stage: StageClassifier, Detail: classification.Reason}
	}
	return Verdict{Accepted: true}
}
