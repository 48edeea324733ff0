// Package discovery announces a sidrelay network backend on the LAN
// via mDNS/DNS-SD, so a client on the same network can find a device
// without typing in host:port. Grounded on
// doismellburning-samoyed/src/dns_sd.go, which announces its own KISS
// TCP service the same way with the same pure-Go library.
package discovery

import (
	"context"
	"fmt"

	"github.com/brutella/dnssd"

	"github.com/sidrelay/sidrelay/internal/rlog"
)

var log = rlog.For("discovery")

// ServiceType is the DNS-SD service type sidrelay's network backend
// announces itself under.
const ServiceType = "_sidrelay._tcp"

// Announcer wraps a running DNS-SD responder so it can be stopped on
// shutdown.
type Announcer struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Announce advertises a sidrelay network SID server at the given port
// under name (falls back to the hostname if name is empty, the
// dnssd library's own default).
func Announce(name string, port int) (*Announcer, error) {
	cfg := dnssd.Config{
		Name: name,
		Type: ServiceType,
		Port: port,
	}

	svc, err := dnssd.NewService(cfg)
	if err != nil {
		return nil, fmt.Errorf("discovery: create service: %w", err)
	}

	responder, err := dnssd.NewResponder()
	if err != nil {
		return nil, fmt.Errorf("discovery: create responder: %w", err)
	}

	if _, err := responder.Add(svc); err != nil {
		return nil, fmt.Errorf("discovery: add service: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Announcer{cancel: cancel, done: make(chan struct{})}

	log.Info("announcing sidrelay network backend", "port", port, "type", ServiceType)

	go func() {
		defer close(a.done)
		if err := responder.Respond(ctx); err != nil && ctx.Err() == nil {
			log.Error("DNS-SD responder stopped unexpectedly", "err", err)
		}
	}()

	return a, nil
}

// Stop cancels the responder and waits for its goroutine to exit.
func (a *Announcer) Stop() {
	a.cancel()
	<-a.done
}
