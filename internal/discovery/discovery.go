// Package discovery finds repowiki backends on the local network.
//
// Backends advertise themselves over mDNS/DNS-SD under _repowiki._tcp with
// TXT records carrying the protocol version, a human-readable name and,
// for TLS-terminating backends, the certificate fingerprint. Discovery only
// reveals presence; whether to trust a backend is the caller's decision
// (see the trust package for fingerprint pinning).
package discovery

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/grandcat/zeroconf"

	apperrors "github.com/repowiki/console/internal/errors"
)

// ServiceType is the DNS-SD service type repowiki backends register under.
// Follows the standard Bonjour naming convention: _<service>._<protocol>
const ServiceType = "_repowiki._tcp"

// ProtocolVersion is the wire protocol version this client speaks. Entries
// advertising a different version still show up; the CLI flags them.
const ProtocolVersion = "1"

// Backend is one discovered repowiki backend.
type Backend struct {
	// Name is the human-readable backend name from the TXT record, or the
	// mDNS instance name when the record is absent.
	Name string `json:"name"`

	// Host is the backend's IP address.
	Host string `json:"host"`

	// Port is the advertised WebSocket port.
	Port int `json:"port"`

	// Fingerprint is the backend's TLS certificate fingerprint from the
	// TXT record. Empty for plaintext backends.
	Fingerprint string `json:"fingerprint,omitempty"`

	// Version is the advertised wire protocol version.
	Version string `json:"version,omitempty"`
}

// Endpoint returns the WebSocket URL for this backend. Backends that
// advertise a certificate fingerprint terminate TLS, so they get wss.
func (b Backend) Endpoint() string {
	scheme := "ws"
	if b.Fingerprint != "" {
		scheme = "wss"
	}
	return scheme + "://" + net.JoinHostPort(b.Host, strconv.Itoa(b.Port)) + "/ws"
}

// parseEntry converts one mDNS service entry into a Backend.
func parseEntry(entry *zeroconf.ServiceEntry) Backend {
	b := Backend{
		Name: entry.Instance,
		Port: entry.Port,
	}

	// Prefer IPv4; IPv6 literals work too (Endpoint brackets them).
	if len(entry.AddrIPv4) > 0 {
		b.Host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		b.Host = entry.AddrIPv6[0].String()
	}

	for _, txt := range entry.Text {
		switch {
		case len(txt) > 3 && txt[:3] == "fp=":
			b.Fingerprint = txt[3:]
		case len(txt) > 8 && txt[:8] == "version=":
			b.Version = txt[8:]
		case len(txt) > 5 && txt[:5] == "name=":
			b.Name = txt[5:]
		}
	}

	return b
}

// Discover browses the local network for repowiki backends until ctx is
// done and returns everything found. Callers bound the search with a
// context timeout.
func Discover(ctx context.Context) ([]Backend, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDiscoveryFailed, "mdns resolver", err)
	}

	var (
		backends []Backend
		mu       sync.Mutex
		wg       sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			b := parseEntry(entry)
			mu.Lock()
			backends = append(backends, b)
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDiscoveryFailed, "mdns browse", err)
	}

	// zeroconf closes the entries channel once the context is done; wait
	// for the collector to finish processing.
	<-ctx.Done()
	wg.Wait()

	return backends, nil
}
