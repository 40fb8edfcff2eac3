package captive

import (
	"fmt"
	"net"

	"github.com/miekg/dns"

	"github.com/fwforge-io/fwforge/pkg/log"
)

// Responder is the captive portal DNS responder. It answers every query
// with the access point's own address and never returns an error reply, so
// clients probing unrelated hostnames are routed into the portal instead of
// bailing out on a resolution failure.
type Responder struct {
	addr   string
	portal net.IP
	server *dns.Server
}

// ttl of the forged records; short, holds only for the portal session.
const ttl = 60

// NewResponder creates a responder answering on addr with the given portal
// address.
func NewResponder(addr string, portal net.IP) *Responder {
	return &Responder{
		addr:   addr,
		portal: portal,
	}
}

// Start binds the listen address and begins serving. The bind happens
// synchronously so that a failure to start surfaces here.
func (r *Responder) Start() error {
	conn, err := net.ListenPacket("udp", r.addr)
	if err != nil {
		return fmt.Errorf("binding dns responder: %w", err)
	}

	mux := dns.NewServeMux()
	mux.HandleFunc(".", r.handle)

	r.server = &dns.Server{
		PacketConn: conn,
		Handler:    mux,
	}

	go func() {
		if err := r.server.ActivateAndServe(); err != nil {
			log.Error(err, "DNS responder stopped unexpectedly")
		}
	}()

	log.Info("Captive portal DNS responder started", "addr", r.addr, "portal", r.portal.String())
	return nil
}

// Shutdown stops the responder. Safe to call when never started.
func (r *Responder) Shutdown() error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown()
}

func (r *Responder) handle(w dns.ResponseWriter, req *dns.Msg) {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Authoritative = true

	// Every reply carries NOERROR, even for types we do not answer.
	// An error rcode would stop clients instead of continuing to the portal.
	resp.Rcode = dns.RcodeSuccess

	for _, q := range req.Question {
		if q.Qtype != dns.TypeA && q.Qtype != dns.TypeANY {
			continue
		}

		resp.Answer = append(resp.Answer, &dns.A{
			Hdr: dns.RR_Header{
				Name:   q.Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    ttl,
			},
			A: r.portal.To4(),
		})
	}

	if err := w.WriteMsg(resp); err != nil {
		log.Error(err, "Failed to write DNS reply")
	}
}
