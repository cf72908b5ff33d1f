package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	ApiTotal          *prometheus.CounterVec
	ApiInFlight       *prometheus.GaugeVec
	PipelineTotal     *prometheus.CounterVec
	ExtensionFailures *prometheus.CounterVec
	CasRetries        prometheus.Counter
	ReapedTotal       prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		ApiTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_total_requests",
			Help: "total number of api requests",
		}, []string{"type", "protocol", "status"}),
		ApiInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "api_in_flight_requests",
			Help: "number of in flight api requests",
		}, []string{"type", "protocol"}),
		PipelineTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_total_dispatches",
			Help: "total number of pipeline event dispatches",
		}, []string{"event", "outcome"}),
		ExtensionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_extension_failures",
			Help: "total number of extension handler failures",
		}, []string{"extension", "fatal"}),
		CasRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "store_cas_retries",
			Help: "total number of compare and swap retries",
		}),
		ReapedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "store_reaped_records",
			Help: "total number of expired records removed",
		}),
	}

	metrics.Enable(reg)
	return metrics
}

func (m *Metrics) Enable(reg prometheus.Registerer) {
	reg.MustRegister(m.ApiTotal)
	reg.MustRegister(m.ApiInFlight)
	reg.MustRegister(m.PipelineTotal)
	reg.MustRegister(m.ExtensionFailures)
	reg.MustRegister(m.CasRetries)
	reg.MustRegister(m.ReapedTotal)
}

func (m *Metrics) Disable(reg prometheus.Registerer) {
	reg.Unregister(m.ApiTotal)
	reg.Unregister(m.ApiInFlight)
	reg.Unregister(m.PipelineTotal)
	reg.Unregister(m.ExtensionFailures)
	reg.Unregister(m.CasRetries)
	reg.Unregister(m.ReapedTotal)
}
