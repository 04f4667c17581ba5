package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/user/rescuemesh/internal/probes"
	"github.com/user/rescuemesh/internal/util"
)

// AddressResolver turns a group member's hardware address into the IP the
// socket client dials.
type AddressResolver interface {
	Resolve(ctx context.Context, hwAddr string) (string, error)
}

var errARPMiss = errors.New("no ARP entry in group subnet")

// Resolver walks the fallback chain: hardware lookup, any other address in
// the group subnet, delayed retries of that, then a subnet sweep.
type Resolver struct {
	arp     *probes.ARPTable
	scanner *probes.SubnetScanner

	subnet     string
	ownIP      string
	retries    int
	retryDelay time.Duration
	log        *util.Logger
}

// NewResolver creates a resolver for the group subnet, where ownIP is the
// local (authority) address that must never be returned.
func NewResolver(arp *probes.ARPTable, scanner *probes.SubnetScanner, subnet, ownIP string) *Resolver {
	return &Resolver{
		arp:        arp,
		scanner:    scanner,
		subnet:     subnet,
		ownIP:      ownIP,
		retries:    3,
		retryDelay: 2 * time.Second,
		log:        util.Named("resolver"),
	}
}

// WithRetries overrides the delayed subnet-lookup retries.
func (r *Resolver) WithRetries(n int, delay time.Duration) *Resolver {
	r.retries = n
	r.retryDelay = delay
	return r
}

// Resolve implements AddressResolver.
func (r *Resolver) Resolve(ctx context.Context, hwAddr string) (string, error) {
	if hwAddr != "" {
		if ip, ok := r.arp.LookupHW(hwAddr); ok && ip != r.ownIP {
			r.log.Debug("Resolved %s via ARP hardware lookup: %s", hwAddr, ip)
			return ip, nil
		}
	}

	// the peer may have randomized its hardware address
	var ip string
	err := retry.Do(
		func() error {
			found, ok := r.arp.AnyInSubnet(r.subnet, r.ownIP)
			if !ok {
				return errARPMiss
			}
			ip = found
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(r.retries+1)),
		retry.Delay(r.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			r.log.Debug("ARP subnet lookup miss %d/%d", n+1, r.retries+1)
		}),
	)
	if err == nil {
		r.log.Debug("Resolved peer via ARP subnet lookup: %s", ip)
		return ip, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	ip, err = r.scanner.FindFirst(ctx, r.subnet, r.ownIP)
	if err != nil {
		return "", fmt.Errorf("subnet scan: %w", err)
	}
	r.log.Debug("Resolved peer via subnet scan: %s", ip)
	return ip, nil
}
