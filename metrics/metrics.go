package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hobbyhub",
		Name:      "messages_accepted_total",
		Help:      "Messages appended to a room log, by kind (human, bot, system).",
	}, []string{"kind"})

	MessagesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hobbyhub",
		Name:      "messages_rejected_total",
		Help:      "Submitted messages that were not accepted, by cause (lexical, classifier, storage_full, invalid).",
	}, []string{"cause"})

	ClassifierFailOpen = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hobbyhub",
		Name:      "classifier_fail_open_total",
		Help:      "Classifier calls that failed or timed out and were treated as safe.",
	})

	BotReplies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hobbyhub",
		Name:      "bot_replies_total",
		Help:      "Bot responder outcomes (scheduled, debounced, skipped, sent, empty, failed, cancelled).",
	}, []string{"outcome"})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hobbyhub",
		Name:      "subscribers",
		Help:      "Live room subscriptions.",
	})

	DroppedSubscribers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hobbyhub",
		Name:      "subscribers_dropped_total",
		Help:      "Subscriptions closed because their delivery queue overflowed.",
	})

	Reports = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hobbyhub",
		Name:      "reports_total",
		Help:      "Reports submitted.",
	})
)
