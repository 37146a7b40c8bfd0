/*
Package framing owns all byte-level access to the DNS wire format that the forwarding core cares
about: validating a client query or upstream reply, reading the RCODE, decoding the question name and
rewriting the QID in place. Nothing downstream of this package pokes at raw message bytes directly -
everything else works in terms of Qid and Rcode.

The QID lives in the first two octets of every DNS message, in network byte order (RFC1035 §4.1.1).
We rewrite it in place rather than unpacking and repacking the whole message with
"github.com/miekg/dns", both because the core never rewrites anything else in the message and because
doing so on the wire buffer is the only way to avoid a full decode/encode round trip on every forwarded
packet.
*/
package framing

import (
	"encoding/binary"
	"errors"

	"github.com/miekg/dns"
)

// Qid is the 16-bit query identifier carried in bytes 0-1 of a DNS message.
type Qid uint16

// Rcode is the 4-bit response code carried in the flags word of a DNS message.
type Rcode int

// RcodeSuccess is the RCODE value that indicates a successful answer.
const RcodeSuccess Rcode = dns.RcodeSuccess

var (
	// ErrTooShort is returned when a buffer is too small to contain a DNS header.
	ErrTooShort = errors.New("framing: message shorter than a DNS header")
	// ErrNotQuery is returned by CheckQuery when QR is set (i.e. it's a reply, not a query).
	ErrNotQuery = errors.New("framing: QR bit set on what should be a query")
	// ErrNotReply is returned by CheckReply when QR is clear (i.e. it's a query, not a reply).
	ErrNotReply = errors.New("framing: QR bit clear on what should be a reply")
	// ErrBadQuestionCount is returned when QDCOUNT != 1.
	ErrBadQuestionCount = errors.New("framing: QDCOUNT != 1")
	// ErrMalformed is returned when the message cannot be parsed at all.
	ErrMalformed = errors.New("framing: malformed message")
)

// CheckQuery validates that buf is a plausible client query: long enough to contain a header,
// QR=0 and QDCOUNT=1. It does not validate the question section itself; use DecodeQName for that.
func CheckQuery(buf []byte) error {
	if len(buf) < 12 {
		return ErrTooShort
	}
	if buf[2]&0x80 != 0 { // QR is the high bit of byte 2
		return ErrNotQuery
	}
	if qdcount(buf) != 1 {
		return ErrBadQuestionCount
	}

	return nil
}

// CheckReply validates that buf is a plausible upstream reply: long enough to contain a header,
// QR=1 and QDCOUNT=1. ANCOUNT is not constrained beyond being well-formed, which Unpack enforces.
func CheckReply(buf []byte) error {
	if len(buf) < 12 {
		return ErrTooShort
	}
	if buf[2]&0x80 == 0 {
		return ErrNotReply
	}
	if qdcount(buf) != 1 {
		return ErrBadQuestionCount
	}
	var m dns.Msg
	if err := m.Unpack(buf); err != nil {
		return ErrMalformed
	}

	return nil
}

func qdcount(buf []byte) uint16 {
	return binary.BigEndian.Uint16(buf[4:6])
}

// GetQid extracts the QID from the first two bytes of buf. Callers must ensure len(buf) >= 2.
func GetQid(buf []byte) Qid {
	return Qid(binary.BigEndian.Uint16(buf[0:2]))
}

// SetQid rewrites bytes 0-1 of buf with qid, in place. Callers must ensure len(buf) >= 2.
func SetQid(buf []byte, qid Qid) {
	binary.BigEndian.PutUint16(buf[0:2], uint16(qid))
}

// GetRcode returns the 4-bit RCODE from the flags word of buf (byte 3, low nibble).
func GetRcode(buf []byte) Rcode {
	return Rcode(buf[3] & 0x0f)
}

// DecodeQName decodes the (possibly compressed) question name from buf, starting at the fixed
// question-section offset of 12, and returns it as a printable, fully-qualified string (e.g.
// "example.com."). It fails on malformed labels or a name exceeding RFC1035's 255-octet cap, both
// of which dns.Msg.Unpack already enforces.
func DecodeQName(buf []byte) (string, error) {
	var m dns.Msg
	if err := m.Unpack(buf); err != nil {
		return "", ErrMalformed
	}
	if len(m.Question) != 1 {
		return "", ErrBadQuestionCount
	}

	return m.Question[0].Name, nil
}
