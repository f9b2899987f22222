// Package stats is a minimal StatsReceiver, trimmed and genericized from
// the teacher's common/stats package: a thin wrapper over go-metrics
// that keeps fleet's watchdog and balancer code from depending on
// go-metrics' API directly.
//
// Dropped relative to the teacher: the latched-snapshot goroutine and
// the Finagle-specific naming, neither of which any fleet component
// needs; a Render() call always reports the live registry and does not
// reset it.
package stats

import (
	"encoding/json"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	metrics "github.com/rcrowley/go-metrics"
)

// StatsReceiver is the capability worker/balance code uses to publish
// counters, gauges, and latencies. Call Scope to namespace a subtree
// (e.g. a per-job scope for watchdog CPU-time gauges).
type StatsReceiver interface {
	Scope(scope ...string) StatsReceiver
	Counter(name ...string) Counter
	Gauge(name ...string) Gauge
	GaugeFloat(name ...string) GaugeFloat
	Latency(name ...string) Latency
	Remove(name ...string)
	Render(pretty bool) []byte
}

// Counter is an always-increasing (or explicitly set) event count.
type Counter interface {
	Count() int64
	Inc(int64)
}

// Gauge holds an arbitrary int64 set at will (e.g. memory usage bytes).
type Gauge interface {
	Update(int64)
	Value() int64
}

// GaugeFloat holds an arbitrary float64 (e.g. a priority-weighted demand).
type GaugeFloat interface {
	Update(float64)
	Value() float64
}

// Latency records a duration sample, e.g. placement hop counts (scaled
// by 1ns per hop so the same histogram machinery applies) or real wall
// time between commit and ACK.
type Latency interface {
	Record(d time.Duration)
	Count() int64
	Mean() float64
}

func DefaultStatsReceiver() StatsReceiver {
	return &registryStatsReceiver{registry: metrics.NewRegistry()}
}

func NilStatsReceiver() StatsReceiver {
	return nilStatsReceiver{}
}

type registryStatsReceiver struct {
	registry metrics.Registry
	scope    []string
}

func (s *registryStatsReceiver) Scope(scope ...string) StatsReceiver {
	return &registryStatsReceiver{registry: s.registry, scope: append(append([]string{}, s.scope...), scope...)}
}

func (s *registryStatsReceiver) name(parts ...string) string {
	return strings.Join(append(append([]string{}, s.scope...), parts...), "/")
}

func (s *registryStatsReceiver) Counter(name ...string) Counter {
	c := s.registry.GetOrRegister(s.name(name...), metrics.NewCounter)
	return c.(metrics.Counter)
}

func (s *registryStatsReceiver) Gauge(name ...string) Gauge {
	g := s.registry.GetOrRegister(s.name(name...), metrics.NewGauge)
	return g.(metrics.Gauge)
}

func (s *registryStatsReceiver) GaugeFloat(name ...string) GaugeFloat {
	g := s.registry.GetOrRegister(s.name(name...), metrics.NewGaugeFloat64)
	return g.(metrics.GaugeFloat64)
}

func (s *registryStatsReceiver) Latency(name ...string) Latency {
	h := s.registry.GetOrRegister(s.name(name...), func() metrics.Histogram {
		return metrics.NewHistogram(metrics.NewUniformSample(1000))
	})
	return &histogramLatency{h.(metrics.Histogram)}
}

func (s *registryStatsReceiver) Remove(name ...string) {
	s.registry.Unregister(s.name(name...))
}

func (s *registryStatsReceiver) Render(pretty bool) []byte {
	data := make(map[string]interface{})
	s.registry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case metrics.Counter:
			data[name] = m.Count()
		case metrics.Gauge:
			data[name] = m.Value()
		case metrics.GaugeFloat64:
			data[name] = m.Value()
		case metrics.Histogram:
			data[name+".count"] = m.Count()
			data[name+".mean"] = m.Mean()
		default:
			log.WithField("stat", name).Debug("unrecognized stat instrument, skipping render")
		}
	})
	var (
		b   []byte
		err error
	)
	if pretty {
		b, err = json.MarshalIndent(data, "", "  ")
	} else {
		b, err = json.Marshal(data)
	}
	if err != nil {
		log.WithError(err).Error("failed to marshal stats registry")
		return []byte("{}")
	}
	return b
}

type histogramLatency struct {
	metrics.Histogram
}

func (h *histogramLatency) Record(d time.Duration) { h.Update(d.Nanoseconds()) }

type nilStatsReceiver struct{}

func (nilStatsReceiver) Scope(scope ...string) StatsReceiver    { return nilStatsReceiver{} }
func (nilStatsReceiver) Counter(name ...string) Counter         { return nilCounter{} }
func (nilStatsReceiver) Gauge(name ...string) Gauge             { return nilGauge{} }
func (nilStatsReceiver) GaugeFloat(name ...string) GaugeFloat   { return nilGaugeFloat{} }
func (nilStatsReceiver) Latency(name ...string) Latency         { return nilLatency{} }
func (nilStatsReceiver) Remove(name ...string)                  {}
func (nilStatsReceiver) Render(pretty bool) []byte              { return []byte("{}") }

type nilCounter struct{}

func (nilCounter) Count() int64 { return 0 }
func (nilCounter) Inc(int64)    {}

type nilGauge struct{}

func (nilGauge) Update(int64) {}
func (nilGauge) Value() int64 { return 0 }

type nilGaugeFloat struct{}

func (nilGaugeFloat) Update(float64) {}
func (nilGaugeFloat) Value() float64 { return 0 }

type nilLatency struct{}

func (nilLatency) Record(time.Duration) {}
func (nilLatency) Count() int64         { return 0 }
func (nilLatency) Mean() float64        { return 0 }
