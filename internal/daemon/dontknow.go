package daemon

import "github.com/miekg/dns"

// DontKnowFunc is the master_dontknow collaborator from spec.md §6: given the original client
// query buffer, it optionally produces a synthetic reply to use when no upstream could be reached.
// A nil DontKnowFunc means the daemon drops such queries silently, per the Open Question decision
// recorded in DESIGN.md/SPEC_FULL.md.
type DontKnowFunc func(query []byte) (reply []byte, ok bool)

// BuildServfail is a minimal DontKnowFunc: it turns the client's own query into a SERVFAIL reply
// with the QID left untouched, so the daemon's normal QID-rewrite-on-the-wire-buffer handling
// still applies at the send site. It is the default if -dontknow is enabled on the command line and
// no richer "master file" responder (an external collaborator, out of scope per spec.md §1) is
// wired in its place.
func BuildServfail(query []byte) ([]byte, bool) {
	var q dns.Msg
	if err := q.Unpack(query); err != nil {
		return nil, false
	}

	reply := new(dns.Msg)
	reply.SetRcode(&q, dns.RcodeServerFailure)
	buf, err := reply.Pack()
	if err != nil {
		return nil, false
	}

	return buf, true
}
