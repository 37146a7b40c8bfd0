package liveness

import (
	"time"

	"github.com/miekg/dns"

	"github.com/dnrd-go/dnrd/internal/constants"
	"github.com/dnrd-go/dnrd/internal/egress"
	"github.com/dnrd-go/dnrd/internal/framing"
	"github.com/dnrd-go/dnrd/internal/qidpool"
	"github.com/dnrd-go/dnrd/internal/querytable"
	"github.com/dnrd-go/dnrd/internal/topology"
)

// ProbeSender emits the canned liveness probe (a question for ProbeName A IN, per the retry-sweep
// design) at a deactivated server and registers the resulting exchange in the query table under
// retryInterval's TTL, so its reply is correlated exactly like any other upstream reply.
type ProbeSender struct {
	Table  *querytable.Table
	Pool   *qidpool.Pool
	Egress *egress.Manager

	nextID uint16 // incrementing probe ID, per the original's "ID++ on every dummy sent"
}

// NewProbeSender constructs a ProbeSender.
func NewProbeSender(tbl *querytable.Table, pool *qidpool.Pool, egr *egress.Manager) *ProbeSender {
	return &ProbeSender{Table: tbl, Pool: pool, Egress: egr}
}

// Send fires one probe at srv via iface and links it into the query table with the given TTL
// (normally the configured retry interval). A failure to send or to allocate resources is
// reported but leaves no trace in the table.
func (p *ProbeSender) Send(iface *topology.Interface, srv *topology.Server, ttl time.Duration) error {
	buf, err := p.buildProbe()
	if err != nil {
		return err
	}

	qid, err := p.Pool.Get()
	if err != nil {
		return err
	}
	framing.SetQid(buf, framing.Qid(qid))

	sock, err := p.Egress.Open(iface.Name)
	if err != nil {
		p.Pool.Return(qid)
		return err
	}
	if _, err := sock.WriteTo(buf, srv.Addr); err != nil {
		sock.Close()
		p.Pool.Return(qid)
		return err
	}
	srv.SendCount++
	srv.SendTime = time.Now()

	rec := &querytable.Record{
		Kind:       querytable.Probe,
		MyQid:      qid,
		TTL:        ttl,
		ClientTime: time.Now(),
	}
	p.Table.InsertProbe(rec)
	p.Table.AddEgress(rec, sock, srv)

	return nil
}

func (p *ProbeSender) buildProbe() ([]byte, error) {
	m := new(dns.Msg)
	m.Id = p.nextID
	p.nextID++
	m.SetQuestion(constants.Get().ProbeName, dns.TypeA)

	return m.Pack()
}
