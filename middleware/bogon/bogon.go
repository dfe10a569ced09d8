package bogon

import (
	"context"
	"net"

	"github.com/gali1/dohrelay/config"
	"github.com/gali1/dohrelay/middleware"
	"github.com/gali1/dohrelay/wire"
	"github.com/semihalev/zlog/v2"
	"github.com/yl2chen/cidranger"
)

// Bogon rejects queries from source addresses that have no business
// reaching the relay: loopback, link-local, documentation blocks and any
// explicitly denylisted hosts. A rejected client gets the fixed empty
// reply, nothing about it is forwarded or resolved.
type Bogon struct {
	ranger cidranger.Ranger
}

// New return bogon filter.
func New(cfg *config.Config) *Bogon {
	b := new(Bogon)
	b.ranger = cidranger.NewPCTrieRanger()

	for _, cidr := range cfg.BogonList {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			zlog.Error("Bogon list parse cidr failed", "cidr", cidr, "error", err.Error())
			continue
		}

		_ = b.ranger.Insert(cidranger.NewBasicRangerEntry(*ipnet))
	}

	for _, addr := range cfg.Denylist {
		ip := net.ParseIP(addr)
		if ip == nil {
			zlog.Error("Denylist parse address failed", "address", addr)
			continue
		}

		bits := 8 * net.IPv6len
		if v4 := ip.To4(); v4 != nil {
			ip = v4
			bits = 8 * net.IPv4len
		}

		_ = b.ranger.Insert(cidranger.NewBasicRangerEntry(net.IPNet{
			IP:   ip,
			Mask: net.CIDRMask(bits, bits),
		}))
	}

	return b
}

// (*Bogon).Name return middleware name.
func (b *Bogon) Name() string { return name }

// IsBogon reports whether ip falls in a configured bogon range or on the
// denylist.
func (b *Bogon) IsBogon(ip net.IP) bool {
	if ip == nil {
		return false
	}

	contains, err := b.ranger.Contains(ip)

	return err == nil && contains
}

// (*Bogon).ServeDNS implements the Handler interface.
func (b *Bogon) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	ip := ch.Writer.RemoteIP()

	if !b.IsBogon(ip) {
		ch.Next(ctx)
		return
	}

	zlog.Info("Blocked bogon query", "client", ip.String())

	reply, err := wire.BogonReject(ch.Query)
	if err != nil {
		// not even a transaction id to correlate with
		ch.Cancel()
		return
	}

	_ = ch.CancelWithReply(reply)
}

const name = "bogon"
