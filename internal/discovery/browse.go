package discovery

import (
	"context"
	"time"

	"github.com/brutella/dnssd"
)

// BrowseTimeout bounds how long -p waits for LAN responses before the
// CLI prints whatever answered (SPEC_FULL.md §4.5: "a few hundred
// milliseconds").
const BrowseTimeout = 300 * time.Millisecond

// ServiceTypeUltimate is the service type an Ultimate/HTTP remote
// player would announce itself under, browsed alongside ServiceType.
const ServiceTypeUltimate = "_sid-ultimate._tcp"

// Found is one LAN service instance discovered by Browse.
type Found struct {
	Name string
	Host string
	Port int
}

// Browse queries serviceType on the local network for BrowseTimeout
// and returns every instance that answered before the deadline.
func Browse(serviceType string) ([]Found, error) {
	ctx, cancel := context.WithTimeout(context.Background(), BrowseTimeout)
	defer cancel()

	var found []Found
	added := func(e dnssd.BrowseEntry) {
		host := e.Host
		if len(e.IPs) > 0 {
			host = e.IPs[0].String()
		}
		found = append(found, Found{Name: e.Name, Host: host, Port: e.Port})
	}
	removed := func(e dnssd.BrowseEntry) {}

	if err := dnssd.LookupType(ctx, serviceType, added, removed); err != nil && ctx.Err() == nil {
		return nil, err
	}
	return found, nil
}
