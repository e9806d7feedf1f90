// Package service coordinates gate, consensus engine, lifecycle and broadcasts.
package service

import (
	"go.uber.org/zap"

	"github.com/xiaot623/dinematch/internal/config"
	"github.com/xiaot623/dinematch/internal/consensus"
	"github.com/xiaot623/dinematch/internal/domain"
	"github.com/xiaot623/dinematch/internal/gate"
	"github.com/xiaot623/dinematch/internal/ledger"
	"github.com/xiaot623/dinematch/internal/lifecycle"
	"github.com/xiaot623/dinematch/internal/metrics"
	"github.com/xiaot623/dinematch/internal/policy"
	"github.com/xiaot623/dinematch/internal/protocol"
	"github.com/xiaot623/dinematch/internal/repository"
	"github.com/xiaot623/dinematch/internal/retry"
)

// Broadcaster fans events out to everyone connected to a group.
type Broadcaster interface {
	BroadcastJSON(groupID string, v interface{}) error
}

// Service is the entry point used by the REST and WebSocket transports.
type Service struct {
	store       repository.Store
	tally       ledger.Ledger
	policy      *policy.Engine
	gate        *gate.Gate
	lifecycle   *lifecycle.Lifecycle
	engine      *consensus.Engine
	broadcaster Broadcaster
	metrics     *metrics.Collector
	config      *config.Config
	retry       retry.Policy
	logger      *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Service) {
		s.metrics = c
	}
}

// WithBroadcaster sets where group events are sent.
func WithBroadcaster(b Broadcaster) Option {
	return func(s *Service) {
		s.broadcaster = b
	}
}

// New wires a Service over store and tally.
func New(store repository.Store, tally ledger.Ledger, policyEngine *policy.Engine, cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		store:   store,
		tally:   tally,
		policy:  policyEngine,
		config:  cfg,
		logger:  zap.NewNop(),
		metrics: metrics.NewCollector("dinematch"),
		retry:   repository.RetryPolicy(cfg.StoreRetryAttempts, cfg.StoreRetryDelay),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.gate = gate.New(store, s.retry)
	s.lifecycle = lifecycle.New(store, tally, policyEngine,
		lifecycle.WithRetry(s.retry),
		lifecycle.WithLogger(s.logger.Named("lifecycle")))
	s.engine = consensus.NewEngine(store, tally, s.gate, s.lifecycle,
		consensus.WithRetry(s.retry),
		consensus.WithLogger(s.logger.Named("consensus")))
	return s
}

// Metrics returns the collector the service reports to.
func (s *Service) Metrics() *metrics.Collector {
	return s.metrics
}

// publish broadcasts an event to the group. Delivery is best effort.
func (s *Service) publish(groupID string, eventType domain.EventType, payload interface{}) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.BroadcastJSON(groupID, protocol.NewEvent(eventType, payload)); err != nil {
		s.logger.Warn("broadcast failed",
			zap.String("group_id", groupID),
			zap.String("type", string(eventType)),
			zap.Error(err))
		return
	}
	s.metrics.Broadcasts.WithLabelValues(string(eventType)).Inc()
}
