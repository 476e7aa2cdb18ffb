// Package metrics exposes Prometheus collectors for authentication, secret
// reads and token renewal, and the HTTP server the agent command runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultNotFound = "not_found"
)

// Recorder records client events into its own registry. It satisfies
// vault.Recorder.
type Recorder struct {
	registry *prometheus.Registry

	authTotal          *prometheus.CounterVec
	secretReadsTotal   *prometheus.CounterVec
	tokenRenewalsTotal *prometheus.CounterVec
	propertiesResolved prometheus.Gauge
	bootstrapDuration  prometheus.Histogram
}

// NewRecorder registers the collectors in a fresh registry that also carries
// the Go runtime and process collectors
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		authTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultconfig_auth_total",
				Help: "Total number of Vault login attempts",
			},
			[]string{"method", "result"},
		),
		secretReadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultconfig_secret_reads_total",
				Help: "Total number of secret context reads",
			},
			[]string{"result"},
		),
		tokenRenewalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultconfig_token_renewals_total",
				Help: "Total number of token renewals",
			},
			[]string{"result"},
		),
		propertiesResolved: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vaultconfig_properties_resolved",
			Help: "Number of properties in the resolved environment",
		}),
		bootstrapDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultconfig_bootstrap_duration_seconds",
			Help:    "Time from login to a resolved environment",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

// Registry returns the registry holding the collectors
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// AuthAttempt counts a login by method
func (r *Recorder) AuthAttempt(method string, err error) {
	r.authTotal.WithLabelValues(method, result(err)).Inc()
}

// SecretRead counts a context read. Missing contexts are counted apart from
// failures.
func (r *Recorder) SecretRead(_ string, found bool, err error) {
	switch {
	case err != nil:
		r.secretReadsTotal.WithLabelValues(ResultFailure).Inc()
	case !found:
		r.secretReadsTotal.WithLabelValues(ResultNotFound).Inc()
	default:
		r.secretReadsTotal.WithLabelValues(ResultSuccess).Inc()
	}
}

// TokenRenewal counts a renewal or relogin outcome
func (r *Recorder) TokenRenewal(err error) {
	r.tokenRenewalsTotal.WithLabelValues(result(err)).Inc()
}

// ObserveBootstrap records a completed bootstrap
func (r *Recorder) ObserveBootstrap(elapsed time.Duration, properties int) {
	r.bootstrapDuration.Observe(elapsed.Seconds())
	r.propertiesResolved.Set(float64(properties))
}
