package persistence

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegistryMetrics exposes connection-registry counters so operators can watch
// the aggregate pool footprint across all clinics. All methods are nil-safe;
// components that do not care about metrics simply pass nil.
type RegistryMetrics struct {
	openPools     prometheus.GaugeFunc
	poolsCreated  prometheus.Counter
	poolsEvicted  prometheus.Counter
	provisionRuns *prometheus.CounterVec
}

// NewRegistryMetrics registers the registry metrics on reg. openPoolsFn is
// polled on scrape, typically Registry.OpenTenantPools.
func NewRegistryMetrics(reg prometheus.Registerer, openPoolsFn func() int) *RegistryMetrics {
	m := &RegistryMetrics{
		openPools: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "clinicore_tenant_pools_open",
			Help: "Number of tenant connection pools currently cached.",
		}, func() float64 { return float64(openPoolsFn()) }),
		poolsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinicore_tenant_pools_created_total",
			Help: "Tenant connection pools created since process start.",
		}),
		poolsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinicore_tenant_pools_evicted_total",
			Help: "Tenant connection pools evicted since process start.",
		}),
		provisionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicore_tenant_provision_total",
			Help: "Provisioning attempts by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.openPools, m.poolsCreated, m.poolsEvicted, m.provisionRuns)
	return m
}

func (m *RegistryMetrics) poolCreated() {
	if m != nil {
		m.poolsCreated.Inc()
	}
}

func (m *RegistryMetrics) poolEvicted() {
	if m != nil {
		m.poolsEvicted.Inc()
	}
}

// ProvisionOutcome records one provisioning attempt result
// ("success", "already_provisioned", "failed").
func (m *RegistryMetrics) ProvisionOutcome(outcome string) {
	if m != nil {
		m.provisionRuns.WithLabelValues(outcome).Inc()
	}
}
