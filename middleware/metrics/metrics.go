package metrics

import (
	"context"

	"github.com/gali1/dohrelay/config"
	"github.com/gali1/dohrelay/middleware"
	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics type.
type Metrics struct {
	queries *prometheus.CounterVec
	dropped prometheus.Counter
}

// New return new metrics.
func New(cfg *config.Config) *Metrics {
	m := &Metrics{
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dns_queries_total",
				Help: "How many DNS queries answered",
			},
			[]string{"qtype", "rcode"},
		),
		dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dns_queries_dropped_total",
				Help: "How many DNS queries ended without a reply",
			},
		),
	}

	_ = prometheus.Register(m.queries)
	_ = prometheus.Register(m.dropped)

	return m
}

// (*Metrics).Name return middleware name.
func (m *Metrics) Name() string { return name }

// (*Metrics).ServeDNS implements the Handler interface.
func (m *Metrics) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	ch.Next(ctx)

	if !ch.Writer.Written() {
		m.dropped.Inc()
		return
	}

	m.queries.With(
		prometheus.Labels{
			"qtype": qtype(ch.Query),
			"rcode": dns.RcodeToString[ch.Writer.Rcode()],
		}).Inc()
}

func qtype(query []byte) string {
	req := new(dns.Msg)
	if err := req.Unpack(query); err != nil || len(req.Question) == 0 {
		return "OTHER"
	}

	return dns.TypeToString[req.Question[0].Qtype]
}

const name = "metrics"
