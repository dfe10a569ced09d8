// Package mock provides an in-memory packet writer for tests.
package mock

import (
	"net"

	"github.com/miekg/dns"
)

// Writer type.
type Writer struct {
	reply []byte

	proto string

	localAddr  net.Addr
	remoteAddr net.Addr

	remoteip net.IP
}

// NewWriter return writer.
func NewWriter(proto, addr string) *Writer {
	w := &Writer{}

	switch proto {
	case "tcp":
		w.localAddr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 53}
		w.remoteAddr, _ = net.ResolveTCPAddr("tcp", addr)
		w.remoteip = w.remoteAddr.(*net.TCPAddr).IP
		w.proto = "tcp"

	case "udp":
		w.localAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 53}
		w.remoteAddr, _ = net.ResolveUDPAddr("udp", addr)
		w.remoteip = w.remoteAddr.(*net.UDPAddr).IP
		w.proto = "udp"
	}

	return w
}

// (*Writer).WriteReply record the raw reply bytes.
func (w *Writer) WriteReply(b []byte) (int, error) {
	w.reply = b
	return len(b), nil
}

// (*Writer).Reply return the recorded raw reply, nil if nothing written.
func (w *Writer) Reply() []byte { return w.reply }

// (*Writer).Msg return the recorded reply parsed as a DNS message, nil if
// nothing was written or the reply does not parse.
func (w *Writer) Msg() *dns.Msg {
	if w.reply == nil {
		return nil
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(w.reply); err != nil {
		return nil
	}

	return msg
}

// (*Writer).Rcode return the recorded reply response code.
func (w *Writer) Rcode() int {
	if len(w.reply) < 4 {
		return dns.RcodeServerFailure
	}

	return int(w.reply[3] & 0x0F)
}

// (*Writer).Written reports whether a reply was recorded.
func (w *Writer) Written() bool { return w.reply != nil }

// (*Writer).RemoteIP func.
func (w *Writer) RemoteIP() net.IP { return w.remoteip }

// (*Writer).Proto func.
func (w *Writer) Proto() string { return w.proto }

// (*Writer).LocalAddr func.
func (w *Writer) LocalAddr() net.Addr { return w.localAddr }

// (*Writer).RemoteAddr func.
func (w *Writer) RemoteAddr() net.Addr { return w.remoteAddr }
