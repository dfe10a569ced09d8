package ratelimit

import (
	"context"
	"net"
	"testing"

	"github.com/gali1/dohrelay/config"
	"github.com/gali1/dohrelay/middleware"
	"github.com/gali1/dohrelay/mock"
	"github.com/gali1/dohrelay/wire"
	"github.com/stretchr/testify/assert"
)

type staticReply struct{}

func (s *staticReply) Name() string { return "staticreply" }

func (s *staticReply) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	out, _ := wire.BogonReject(ch.Query)
	_ = ch.CancelWithReply(out)
}

func Test_RateLimitDisabled(t *testing.T) {
	cfg := new(config.Config)

	middleware.Register("ratelimit", func(cfg *config.Config) middleware.Handler { return New(cfg) })
	middleware.Setup(cfg)

	r := middleware.Get("ratelimit").(*RateLimit)
	assert.Equal(t, "ratelimit", r.Name())

	ch := middleware.NewChain([]middleware.Handler{r, &staticReply{}})

	mw := mock.NewWriter("udp", "10.0.0.1:0")
	ch.Reset(mw, []byte{0xAB, 0x12})
	ch.Next(context.Background())

	assert.True(t, mw.Written())
}

func Test_RateLimit(t *testing.T) {
	cfg := new(config.Config)
	cfg.ClientRateLimit = 1

	r := New(cfg)

	ch := middleware.NewChain([]middleware.Handler{r, &staticReply{}})

	mw := mock.NewWriter("udp", "10.0.0.1:0")
	ch.Reset(mw, []byte{0xAB, 0x12})
	ch.Next(context.Background())
	assert.True(t, mw.Written())

	// bucket for 1/min has burst 1, the second query is dropped
	mw = mock.NewWriter("udp", "10.0.0.1:0")
	ch.Reset(mw, []byte{0xAB, 0x12})
	ch.Next(context.Background())
	assert.False(t, mw.Written())

	// a different client is unaffected
	mw = mock.NewWriter("udp", "10.0.0.2:0")
	ch.Reset(mw, []byte{0xAB, 0x12})
	ch.Next(context.Background())
	assert.True(t, mw.Written())
}

func Test_LimiterStoreSweep(t *testing.T) {
	s := newLimiterStore(10)

	s.allow(net.ParseIP("10.0.0.1"))
	s.allow(net.ParseIP("10.0.0.2"))

	s.mu.Lock()
	assert.Len(t, s.entries, 2)
	for _, entry := range s.entries {
		entry.lastSeen = entry.lastSeen.Add(-entryTTL * 2)
	}
	s.mu.Unlock()

	s.sweep()

	s.mu.Lock()
	assert.Empty(t, s.entries)
	s.mu.Unlock()
}
