package ratelimit

import (
	"context"

	"github.com/gali1/dohrelay/config"
	"github.com/gali1/dohrelay/middleware"
	"github.com/semihalev/zlog/v2"
)

// RateLimit type.
type RateLimit struct {
	store *limiterStore
	rate  int
}

// New return ratelimit.
func New(cfg *config.Config) *RateLimit {
	r := &RateLimit{
		rate: cfg.ClientRateLimit,
	}

	if r.rate > 0 {
		r.store = newLimiterStore(r.rate)
	}

	return r
}

// (*RateLimit).Name return middleware name.
func (r *RateLimit) Name() string { return name }

// (*RateLimit).ServeDNS implements the Handler interface. A limited client
// gets no reply, exactly like the other drop outcomes.
func (r *RateLimit) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	if r.rate == 0 {
		ch.Next(ctx)
		return
	}

	ip := ch.Writer.RemoteIP()
	if ip == nil {
		ch.Next(ctx)
		return
	}

	if !r.store.allow(ip) {
		zlog.Debug("Client rate limited", "client", ip.String())
		ch.Cancel()
		return
	}

	ch.Next(ctx)
}

const name = "ratelimit"
