package service

import (
	"github.com/fulcrumhq/fulcrum/internal/coordinator"
	"github.com/fulcrumhq/fulcrum/internal/kernel/t_api"
	"github.com/fulcrumhq/fulcrum/internal/lifecycle"
	"github.com/fulcrumhq/fulcrum/internal/metrics"
	"github.com/fulcrumhq/fulcrum/internal/pipeline"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Service is the transport-neutral entry point: every protocol binding
// (http today) funnels into these methods.
type Service struct {
	invoker     *pipeline.Invoker
	lifecycle   *lifecycle.Lifecycle
	coordinator *coordinator.Coordinator
	metrics     *metrics.Metrics
	protocol    string
	validate    *validator.Validate
}

func New(i *pipeline.Invoker, l *lifecycle.Lifecycle, c *coordinator.Coordinator, m *metrics.Metrics, protocol string) *Service {
	return &Service{
		invoker:     i,
		lifecycle:   l,
		coordinator: c,
		metrics:     m,
		protocol:    protocol,
		validate:    validator.New(),
	}
}

// Header carries the per-call identity supplied by the transport's
// authentication layer.
type Header struct {
	RequestId string
	Owner     string
	Admin     bool
}

func (h *Header) id() string {
	if h.RequestId == "" {
		return uuid.New().String()
	}
	return h.RequestId
}

func (s *Service) observe(kind t_api.Kind) func(t_api.StatusCode) {
	s.metrics.ApiInFlight.WithLabelValues(kind.String(), s.protocol).Inc()

	return func(status t_api.StatusCode) {
		s.metrics.ApiInFlight.WithLabelValues(kind.String(), s.protocol).Dec()
		s.metrics.ApiTotal.WithLabelValues(kind.String(), s.protocol, status.String()).Inc()
	}
}
