// Package metrics exposes scheduler, publication and notifier counters on a
// private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scibot/internal/bot"
	"scibot/internal/notifier"
	"scibot/internal/task/scheduler"
)

const namespace = "scibot"

// Metrics implements scheduler.Observer and bot.Observer.
type Metrics struct {
	reg *prometheus.Registry

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	jobSkips    *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
	publishes   *prometheus.CounterVec
	notifies    *prometheus.CounterVec
	passes      prometheus.Counter
}

var (
	_ scheduler.Observer = (*Metrics)(nil)
	_ bot.Observer       = (*Metrics)(nil)
)

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "job_runs_total", Help: "Job executions by result and error kind.",
		}, []string{"job", "result", "kind"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_duration_seconds", Help: "Job callback duration.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"job"}),
		jobSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "job_skips_total", Help: "Runs skipped because the job was still running.",
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "job_last_success_timestamp_seconds", Help: "Unix time of the last successful run.",
		}, []string{"job"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "publish_total", Help: "Publication attempts by outcome.",
		}, []string{"job", "outcome"}),
		notifies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notify_events_total", Help: "Operator notification events.",
		}, []string{"event"}),
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "scheduler_passes_total", Help: "Run loop passes.",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobRuns, m.jobDuration, m.jobSkips, m.lastSuccess, m.publishes, m.notifies, m.passes,
	)
	return m
}

func (m *Metrics) ObserveRun(job string, took time.Duration, err error) {
	m.jobDuration.WithLabelValues(job).Observe(took.Seconds())
	if err != nil {
		m.jobRuns.WithLabelValues(job, "error", scheduler.Kind(err)).Inc()
		return
	}
	m.jobRuns.WithLabelValues(job, "ok", "").Inc()
	m.lastSuccess.WithLabelValues(job).SetToCurrentTime()
}

func (m *Metrics) ObserveSkip(job string) { m.jobSkips.WithLabelValues(job).Inc() }

func (m *Metrics) ObservePublish(job string, outcome bot.Outcome) {
	m.publishes.WithLabelValues(job, string(outcome)).Inc()
}

// ObserveNotify is a notifier event hook.
func (m *Metrics) ObserveNotify(ev notifier.Event) { m.notifies.WithLabelValues(string(ev.Type)).Inc() }

// ObservePass counts one run loop pass.
func (m *Metrics) ObservePass(scheduler.Report) { m.passes.Inc() }

// RegisterLedgerSize exports fn as the ledger key count.
func (m *Metrics) RegisterLedgerSize(fn func() float64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "ledger_keys", Help: "Keys in the dedup ledger.",
	}, fn))
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
