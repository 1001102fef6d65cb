// Package discover advertises and enumerates OMT sources over DNS-SD.
package discover

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the OMT DNS-SD service type. The trailing dot is required
// for vMix / OMT Viewer compatibility.
const ServiceType = "_omt._tcp."

const domain = "local."

// InstanceName formats the advertised instance name as "<HOST> (<source>)".
// A source name that already carries parentheses is used verbatim.
func InstanceName(host, source string) string {
	if strings.ContainsAny(source, "()") {
		return source
	}
	return fmt.Sprintf("%s (%s)", host, source)
}

// Advertiser is a registered DNS-SD service instance.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers an OMT source under the given source name on the
// given port. Call once the TCP listener is bound. Close unregisters.
func Advertise(source string, port int) (*Advertiser, error) {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "omt"
	}
	instance := InstanceName(host, source)

	server, err := zeroconf.Register(instance, ServiceType, domain, port, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("discover: register %q: %w", instance, err)
	}
	return &Advertiser{server: server}, nil
}

// Close unregisters the service.
func (a *Advertiser) Close() {
	a.server.Shutdown()
}

// Source is one discovered OMT sender.
type Source struct {
	Name string
	Host string
	Port int
}

// Browse enumerates OMT sources visible on the local network within the
// timeout. Entries resolving to an IPv4 address report it as Host;
// otherwise the mDNS hostname is used.
func Browse(ctx context.Context, timeout time.Duration) ([]Source, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discover: resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := resolver.Browse(ctx, ServiceType, domain, entries); err != nil {
		return nil, fmt.Errorf("discover: browse: %w", err)
	}

	var sources []Source
	for entry := range entries {
		src := Source{
			Name: entry.Instance,
			Host: strings.TrimSuffix(entry.HostName, "."),
			Port: entry.Port,
		}
		if len(entry.AddrIPv4) > 0 {
			src.Host = entry.AddrIPv4[0].String()
		}
		sources = append(sources, src)
	}
	return sources, nil
}
