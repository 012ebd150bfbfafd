// Package metrics registers the prometheus gauges and counters this
// module exposes, serving /metrics via promhttp.Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collection-wide gauge/counter this module
// exports, one set per region.
type Metrics struct {
	HealthyTeamCount   *prometheus.GaugeVec
	OptimalTeamCount   *prometheus.GaugeVec
	ZeroHealthyTeams   *prometheus.GaugeVec
	UnhealthyServers   *prometheus.GaugeVec
	RecruitmentTotal   *prometheus.CounterVec
	WiggleActive       *prometheus.GaugeVec
	BuildPassDuration  prometheus.Histogram
}

// New registers every metric against reg and returns the bundle.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HealthyTeamCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ddc_healthy_team_count",
			Help: "Number of healthy server teams, by region.",
		}, []string{"region"}),
		OptimalTeamCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ddc_optimal_team_count",
			Help: "Number of optimal server teams, by region.",
		}, []string{"region"}),
		ZeroHealthyTeams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ddc_zero_healthy_teams",
			Help: "1 if healthyTeamCount is zero for the region, else 0.",
		}, []string{"region"}),
		UnhealthyServers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ddc_unhealthy_servers",
			Help: "Number of unhealthy servers, by region.",
		}, []string{"region"}),
		RecruitmentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ddc_recruitment_total",
			Help: "Recruitment attempts, by region and outcome.",
		}, []string{"region", "outcome"}),
		WiggleActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ddc_wiggle_active",
			Help: "1 if the perpetual wiggle is currently actively wiggling a process, by region.",
		}, []string{"region"}),
		BuildPassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "ddc_build_pass_duration_seconds",
			Help: "Duration of one team builder pass.",
		}),
	}
	reg.MustRegister(m.HealthyTeamCount, m.OptimalTeamCount, m.ZeroHealthyTeams,
		m.UnhealthyServers, m.RecruitmentTotal, m.WiggleActive, m.BuildPassDuration)
	return m
}

// Handler returns the promhttp handler over the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor returns the promhttp handler over a caller-supplied
// registry, for a process that keeps its own (as ddcontrold does
// rather than polluting the default global registry).
func HandlerFor(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
