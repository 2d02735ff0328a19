package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vmark/vmark-node/pkg/twamp"
)

// vmarkCollector implements prometheus.Collector, reading live forwarding
// and TWAMP state on each scrape.
type vmarkCollector struct {
	srv *Server

	rulesTotal      *prometheus.Desc
	rulesActive     *prometheus.Desc
	rulesNotApplied *prometheus.Desc

	twampSessions    *prometheus.Desc
	twampSent        *prometheus.Desc
	twampReceived    *prometheus.Desc
	twampLossPercent *prometheus.Desc
	twampRTTAvg      *prometheus.Desc
}

func newCollector(srv *Server) *vmarkCollector {
	return &vmarkCollector{
		srv: srv,
		rulesTotal: prometheus.NewDesc("vmark_forwarding_rules",
			"Number of forwarding rules, inverses included", nil, nil),
		rulesActive: prometheus.NewDesc("vmark_forwarding_rules_active",
			"Number of active forwarding rules", nil, nil),
		rulesNotApplied: prometheus.NewDesc("vmark_forwarding_rules_not_applied",
			"Active rules the reconciler could not install", nil, nil),
		twampSessions: prometheus.NewDesc("vmark_twamp_sessions",
			"Registered TWAMP sessions", []string{"kind"}, nil),
		twampSent: prometheus.NewDesc("vmark_twamp_packets_sent_total",
			"Test packets sent by a finished sender session", []string{"session"}, nil),
		twampReceived: prometheus.NewDesc("vmark_twamp_packets_received_total",
			"Reflections matched by a finished sender session", []string{"session"}, nil),
		twampLossPercent: prometheus.NewDesc("vmark_twamp_loss_percent",
			"Packet loss of a finished sender session", []string{"session"}, nil),
		twampRTTAvg: prometheus.NewDesc("vmark_twamp_rtt_avg_seconds",
			"Average round-trip time of a finished sender session", []string{"session"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *vmarkCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rulesTotal
	ch <- c.rulesActive
	ch <- c.rulesNotApplied
	ch <- c.twampSessions
	ch <- c.twampSent
	ch <- c.twampReceived
	ch <- c.twampLossPercent
	ch <- c.twampRTTAvg
}

// Collect implements prometheus.Collector.
func (c *vmarkCollector) Collect(ch chan<- prometheus.Metric) {
	res, err := c.srv.engine.Show("")
	if err == nil {
		active := 0
		for _, r := range res.Rules {
			if r.Active {
				active++
			}
		}
		ch <- prometheus.MustNewConstMetric(c.rulesTotal, prometheus.GaugeValue, float64(len(res.Rules)))
		ch <- prometheus.MustNewConstMetric(c.rulesActive, prometheus.GaugeValue, float64(active))
		ch <- prometheus.MustNewConstMetric(c.rulesNotApplied, prometheus.GaugeValue, float64(len(res.NotApplied)))
	}

	sessions := c.srv.sessions.List()
	byKind := map[twamp.SessionKind]int{}
	for _, s := range sessions {
		byKind[s.Kind]++
	}
	for kind, n := range byKind {
		ch <- prometheus.MustNewConstMetric(c.twampSessions, prometheus.GaugeValue, float64(n), string(kind))
	}

	for _, s := range sessions {
		if s.Result == nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.twampSent, prometheus.CounterValue, float64(s.Result.Sent), s.Name)
		ch <- prometheus.MustNewConstMetric(c.twampReceived, prometheus.CounterValue, float64(s.Result.Received), s.Name)
		ch <- prometheus.MustNewConstMetric(c.twampLossPercent, prometheus.GaugeValue, s.Result.Loss, s.Name)
		ch <- prometheus.MustNewConstMetric(c.twampRTTAvg, prometheus.GaugeValue, s.Result.RoundTrip.Avg.Seconds(), s.Name)
	}
}
