package middleware

import (
	"errors"
	"net"

	"github.com/miekg/dns"
)

// PacketWriter is the transport side of a response: the server's UDP
// socket in production, a mock in tests.
type PacketWriter interface {
	WriteReply([]byte) (int, error)
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// ResponseWriter wraps a PacketWriter and records what was written so the
// observability handlers can see the outcome after the chain ran.
type ResponseWriter interface {
	PacketWriter
	Reply() []byte
	Rcode() int
	Written() bool
	Reset(PacketWriter)
	Proto() string
	RemoteIP() net.IP
}

type responseWriter struct {
	PacketWriter

	reply    []byte
	size     int
	proto    string
	remoteip net.IP
}

var _ ResponseWriter = &responseWriter{}
var errAlreadyWritten = errors.New("reply already written")

func (w *responseWriter) Reply() []byte {
	return w.reply
}

func (w *responseWriter) Reset(pw PacketWriter) {
	w.PacketWriter = pw
	w.size = -1
	w.reply = nil
	w.proto = "udp"
	w.remoteip = nil

	switch addr := pw.RemoteAddr().(type) {
	case *net.UDPAddr:
		w.remoteip = addr.IP
	case *net.TCPAddr:
		w.proto = "tcp"
		w.remoteip = addr.IP
	}
}

func (w *responseWriter) RemoteIP() net.IP {
	return w.remoteip
}

func (w *responseWriter) Proto() string {
	return w.proto
}

// (*responseWriter).Rcode return the response code of the written reply.
func (w *responseWriter) Rcode() int {
	if len(w.reply) < 4 {
		return dns.RcodeServerFailure
	}

	return int(w.reply[3] & 0x0F)
}

func (w *responseWriter) Written() bool {
	return w.size != -1
}

func (w *responseWriter) WriteReply(b []byte) (int, error) {
	if w.Written() {
		return 0, errAlreadyWritten
	}

	w.reply = b

	n, err := w.PacketWriter.WriteReply(b)
	w.size = n

	return n, err
}
