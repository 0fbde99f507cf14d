// Package discovery resolves the microphone's address over mDNS
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
)

// ErrNotFound is returned when no usable service entry answered the query
var ErrNotFound = errors.New("no device found via mDNS")

// QueryFunc performs an mDNS query. mdns.Query satisfies it.
type QueryFunc func(params *mdns.QueryParam) error

// Resolver looks up a device advertising a given service type in "local."
type Resolver struct {
	service string
	timeout time.Duration
	logger  *slog.Logger
	query   QueryFunc
}

// NewResolver creates a resolver for service, e.g. "_micstream._udp"
func NewResolver(service string, timeout time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{
		service: service,
		timeout: timeout,
		logger:  logger,
		query:   mdns.Query,
	}
}

// Resolve returns host:port of the first IPv4 entry that answers
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	collected := make(chan []*mdns.ServiceEntry, 1)

	go func() {
		var all []*mdns.ServiceEntry
		for entry := range entries {
			all = append(all, entry)
		}
		collected <- all
	}()

	params := &mdns.QueryParam{
		Service:     r.service,
		Domain:      "local",
		Timeout:     r.timeout,
		Entries:     entries,
		DisableIPv6: true,
	}

	r.logger.Info("Looking up device via mDNS",
		slog.String("service", r.service),
		slog.Duration("timeout", r.timeout),
	)

	err := r.query(params)
	close(entries)
	all := <-collected

	if err != nil {
		return "", fmt.Errorf("mDNS query for %s failed: %w", r.service, err)
	}

	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	entry := selectEntry(all)
	if entry == nil {
		return "", fmt.Errorf("%w: service %s", ErrNotFound, r.service)
	}

	addr := net.JoinHostPort(entry.AddrV4.String(), strconv.Itoa(entry.Port))

	r.logger.Info("Device discovered",
		slog.String("name", entry.Name),
		slog.String("address", addr),
		slog.Int("candidates", len(all)),
	)

	return addr, nil
}

// selectEntry picks the first entry with an IPv4 address and a port
func selectEntry(entries []*mdns.ServiceEntry) *mdns.ServiceEntry {
	for _, entry := range entries {
		if entry == nil || entry.AddrV4 == nil || entry.Port <= 0 {
			continue
		}
		return entry
	}
	return nil
}
