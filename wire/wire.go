// Package wire reads and builds the few raw DNS wire-format pieces the
// relay needs. The relay never rewrites upstream messages, it splices the
// client's transaction ID onto whatever payload it sends back, so the
// functions here work on byte slices instead of parsed messages.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"
)

const (
	// HeaderSize is the fixed DNS message header size.
	HeaderSize = 12

	// AnswerTTL is the TTL stamped on synthesized static answers. Static
	// mappings can change between restarts, so keep it short.
	AnswerTTL = 60
)

var (
	// ErrMalformedMessage reports a query too short or truncated to read.
	ErrMalformedMessage = errors.New("malformed dns message")

	// ErrUnsupportedMessage reports a question using compression pointers,
	// which the relay does not follow.
	ErrUnsupportedMessage = errors.New("unsupported dns message")

	// ErrInvalidAddress reports a static mapping value that is not an
	// IPv4 address.
	ErrInvalidAddress = errors.New("invalid ipv4 address")

	// ErrShortPayload reports an upstream payload too short to correlate.
	ErrShortPayload = errors.New("payload too short")
)

// bogonHeader is the reply body sent to bogon sources: response flags set
// (QR|RD|RA), rcode NOERROR, all section counts zero. The leading two bytes
// are placeholders replaced by Correlate.
var bogonHeader = []byte{0x00, 0x00, 0x81, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

// TransactionID returns the first two bytes of query unmodified.
func TransactionID(query []byte) ([]byte, error) {
	if len(query) < 2 {
		return nil, ErrMalformedMessage
	}

	return query[:2], nil
}

// QuestionName walks the question section after the fixed header and
// returns the queried name as a fully qualified, dot-terminated string.
// Compression pointers are rejected: a query's own question section is
// never compressed, and the relay does not follow pointers anywhere else.
func QuestionName(query []byte) (string, error) {
	if len(query) < HeaderSize {
		return "", ErrMalformedMessage
	}

	var labels []string

	off := HeaderSize
	for {
		if off >= len(query) {
			return "", ErrMalformedMessage
		}

		length := int(query[off])
		if length == 0 {
			break
		}

		if length&0xC0 != 0 {
			// top two bits set marks a compression pointer
			return "", ErrUnsupportedMessage
		}

		off++
		if off+length > len(query) {
			return "", ErrMalformedMessage
		}

		labels = append(labels, string(query[off:off+length]))
		off += length
	}

	if len(labels) == 0 {
		return ".", nil
	}

	return strings.Join(labels, ".") + ".", nil
}

// questionEnd returns the offset just past the question section: the end
// of the name plus the QTYPE and QCLASS fields.
func questionEnd(query []byte) (int, error) {
	off := HeaderSize
	for {
		if off >= len(query) {
			return 0, ErrMalformedMessage
		}

		length := int(query[off])
		if length == 0 {
			off++
			break
		}

		if length&0xC0 != 0 {
			return 0, ErrUnsupportedMessage
		}

		off += length + 1
	}

	if off+4 > len(query) {
		return 0, ErrMalformedMessage
	}

	return off + 4, nil
}

// Correlate returns the query's transaction ID followed by payload[2:].
// The payload's own leading two bytes are discarded, whatever they were.
func Correlate(query, payload []byte) ([]byte, error) {
	id, err := TransactionID(query)
	if err != nil {
		return nil, err
	}

	if len(payload) < 2 {
		return nil, ErrShortPayload
	}

	out := make([]byte, len(payload))
	copy(out, id)
	copy(out[2:], payload[2:])

	return out, nil
}

// BogonReject returns the fixed no-error, no-answer reply for a query from
// a disallowed source, correlated with the query's transaction ID. All
// section counts are zero so nothing about the relay's behavior leaks.
func BogonReject(query []byte) ([]byte, error) {
	return Correlate(query, bogonHeader)
}

// StaticAnswer builds a minimal response answering the query's first
// question with a single A record for ipv4: response flags set, question
// copied verbatim from the query, one answer with RDLENGTH 4.
func StaticAnswer(query []byte, ipv4 string) ([]byte, error) {
	ip := net.ParseIP(ipv4)
	if ip = ip.To4(); ip == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, ipv4)
	}

	qend, err := questionEnd(query)
	if err != nil {
		return nil, err
	}

	question := query[HeaderSize:qend]
	// question name is reused uncompressed as the answer owner name
	name := query[HeaderSize : qend-4]

	out := make([]byte, 0, HeaderSize+len(question)+len(name)+14)

	var header [HeaderSize]byte
	copy(header[:2], query[:2])
	binary.BigEndian.PutUint16(header[2:4], 0x8180) // QR|RD|RA, NOERROR
	binary.BigEndian.PutUint16(header[4:6], 1)      // QDCOUNT
	binary.BigEndian.PutUint16(header[6:8], 1)      // ANCOUNT

	out = append(out, header[:]...)
	out = append(out, question...)
	out = append(out, name...)

	var rr [10]byte
	binary.BigEndian.PutUint16(rr[0:2], 1) // TYPE A
	binary.BigEndian.PutUint16(rr[2:4], 1) // CLASS IN
	binary.BigEndian.PutUint32(rr[4:8], AnswerTTL)
	binary.BigEndian.PutUint16(rr[8:10], 4) // RDLENGTH

	out = append(out, rr[:]...)
	out = append(out, ip...)

	return out, nil
}
