package bogon

import (
	"context"
	"net"
	"testing"

	"github.com/gali1/dohrelay/config"
	"github.com/gali1/dohrelay/middleware"
	"github.com/gali1/dohrelay/mock"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forwardMarker fails the test if the chain ever reaches it.
type forwardMarker struct {
	t *testing.T
}

func (f *forwardMarker) Name() string { return "forwardmarker" }

func (f *forwardMarker) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	f.t.Fatal("bogon query reached the forwarding stage")
}

func testConfig() *config.Config {
	cfg := new(config.Config)
	cfg.BogonList = []string{
		"127.0.0.0/8",
		"169.254.0.0/16",
		"192.0.2.0/24",
		"1", // ignored with a log line
	}
	cfg.Denylist = []string{"203.0.114.7", "bad"}

	return cfg
}

func Test_BogonDefaults(t *testing.T) {
	cfg := new(config.Config)

	b := New(cfg)

	assert.False(t, b.IsBogon(net.ParseIP("127.0.0.1")))
	assert.False(t, b.IsBogon(nil))
}

func Test_BogonIsBogon(t *testing.T) {
	middleware.Register("bogon", func(cfg *config.Config) middleware.Handler { return New(cfg) })
	middleware.Setup(testConfig())

	b := middleware.Get("bogon").(*Bogon)
	assert.Equal(t, "bogon", b.Name())

	assert.True(t, b.IsBogon(net.ParseIP("127.0.0.1")))
	assert.True(t, b.IsBogon(net.ParseIP("192.0.2.55")))
	assert.True(t, b.IsBogon(net.ParseIP("203.0.114.7")))
	assert.False(t, b.IsBogon(net.ParseIP("8.8.8.8")))
}

func Test_BogonReject(t *testing.T) {
	b := New(testConfig())

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	req.Id = 0xAB12

	raw, err := req.Pack()
	require.NoError(t, err)

	ch := middleware.NewChain([]middleware.Handler{b, &forwardMarker{t: t}})

	mw := mock.NewWriter("udp", "127.0.0.1:0")
	ch.Reset(mw, raw)
	ch.Next(context.Background())

	require.True(t, mw.Written())
	assert.Equal(t, raw[:2], mw.Reply()[:2])

	resp := mw.Msg()
	require.NotNil(t, resp)
	assert.True(t, resp.Response)
	assert.Empty(t, resp.Question)
	assert.Empty(t, resp.Answer)
	assert.Empty(t, resp.Ns)
	assert.Empty(t, resp.Extra)
}

func Test_BogonAdmitted(t *testing.T) {
	b := New(testConfig())

	ch := middleware.NewChain([]middleware.Handler{b})

	mw := mock.NewWriter("udp", "8.8.8.8:0")
	ch.Reset(mw, []byte{0xAB, 0x12})
	ch.Next(context.Background())

	assert.False(t, mw.Written())
}

func Test_BogonShortQuery(t *testing.T) {
	b := New(testConfig())

	ch := middleware.NewChain([]middleware.Handler{b})

	mw := mock.NewWriter("udp", "127.0.0.1:0")
	ch.Reset(mw, []byte{0xAB})
	ch.Next(context.Background())

	assert.False(t, mw.Written())
}
