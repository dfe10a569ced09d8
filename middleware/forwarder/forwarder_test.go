package forwarder

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gali1/dohrelay/config"
	"github.com/gali1/dohrelay/middleware"
	"github.com/gali1/dohrelay/mock"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeQuery(t *testing.T, id uint16, name string) []byte {
	t.Helper()

	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(name), dns.TypeA)
	req.Id = id

	raw, err := req.Pack()
	require.NoError(t, err)

	return raw
}

func makeResponse(t *testing.T, id uint16, name, addr string) []byte {
	t.Helper()

	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(name), dns.TypeA)
	req.Id = id

	resp := new(dns.Msg)
	resp.SetReply(req)

	rr, err := dns.NewRR(dns.Fqdn(name) + " 300 IN A " + addr)
	require.NoError(t, err)
	resp.Answer = append(resp.Answer, rr)

	raw, err := resp.Pack()
	require.NoError(t, err)

	return raw
}

// testForwarder points a forwarder at a stub endpoint, reusing the stub's
// client so its certificate is trusted.
func testForwarder(ts *httptest.Server) *Forwarder {
	f := &Forwarder{
		endpoint: ts.URL,
		client:   ts.Client(),
	}
	f.client.Timeout = 2 * time.Second

	return f
}

func Test_ForwarderNew(t *testing.T) {
	cfg := new(config.Config)
	cfg.Upstream = "https://cloudflare-dns.com/dns-query"

	middleware.Register("forwarder", func(cfg *config.Config) middleware.Handler { return New(cfg) })
	middleware.Setup(cfg)

	f := middleware.Get("forwarder").(*Forwarder)
	assert.Equal(t, "forwarder", f.Name())
	assert.Equal(t, cfg.Upstream, f.endpoint)
}

func Test_ForwarderNewHTTP3(t *testing.T) {
	cfg := new(config.Config)
	cfg.Upstream = "https://cloudflare-dns.com/dns-query"
	cfg.UpstreamHTTP3 = true

	f := New(cfg)
	assert.NotNil(t, f.client.Transport)
}

func Test_ForwarderExchange(t *testing.T) {
	query := makeQuery(t, 0xAB12, "example.com.")
	upstream := makeResponse(t, 0x9999, "example.com.", "93.184.216.34")

	var gotContentType string

	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(upstream)
	}))
	defer ts.Close()

	f := testForwarder(ts)

	body, err := f.Exchange(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, upstream, body)
	assert.Equal(t, contentType, gotContentType)
}

func Test_ForwarderCorrelation(t *testing.T) {
	query := makeQuery(t, 0xAB12, "example.com.")

	// the upstream answers under its own transaction id
	upstream := makeResponse(t, 0x9999, "example.com.", "93.184.216.34")

	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(upstream)
	}))
	defer ts.Close()

	f := testForwarder(ts)

	ch := middleware.NewChain([]middleware.Handler{f})

	mw := mock.NewWriter("udp", "8.8.8.8:0")
	ch.Reset(mw, query)
	ch.Next(context.Background())

	require.True(t, mw.Written())

	reply := mw.Reply()
	assert.Equal(t, []byte{0xAB, 0x12}, reply[:2])
	assert.Equal(t, upstream[2:], reply[2:])

	resp := mw.Msg()
	require.NotNil(t, resp)
	assert.Equal(t, uint16(0xAB12), resp.Id)
	require.Len(t, resp.Answer, 1)
}

func Test_ForwarderUpstreamError(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "try later", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	f := testForwarder(ts)

	_, err := f.Exchange(context.Background(), makeQuery(t, 1, "example.com."))

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusServiceUnavailable, ue.Status)
	assert.Contains(t, ue.Error(), "503")

	// the client hears nothing
	ch := middleware.NewChain([]middleware.Handler{f})

	mw := mock.NewWriter("udp", "8.8.8.8:0")
	ch.Reset(mw, makeQuery(t, 1, "example.com."))
	ch.Next(context.Background())

	assert.False(t, mw.Written())
}

func Test_ForwarderTransportError(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	f := testForwarder(ts)
	ts.Close()

	_, err := f.Exchange(context.Background(), makeQuery(t, 1, "example.com."))

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Error(t, errors.Unwrap(te))

	ch := middleware.NewChain([]middleware.Handler{f})

	mw := mock.NewWriter("udp", "8.8.8.8:0")
	ch.Reset(mw, makeQuery(t, 1, "example.com."))
	ch.Next(context.Background())

	assert.False(t, mw.Written())
}

func Test_ForwarderShortBody(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{0x00})
	}))
	defer ts.Close()

	f := testForwarder(ts)

	ch := middleware.NewChain([]middleware.Handler{f})

	mw := mock.NewWriter("udp", "8.8.8.8:0")
	ch.Reset(mw, makeQuery(t, 1, "example.com."))
	ch.Next(context.Background())

	assert.False(t, mw.Written())
}
