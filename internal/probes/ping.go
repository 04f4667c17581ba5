package probes

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// SubnetScanner finds a reachable host in a small subnet by sweeping it in
// fixed-size parallel batches.
type SubnetScanner struct {
	batchSize int
	timeout   time.Duration
	ports     []int
}

// NewSubnetScanner creates a scanner probing the given TCP ports.
func NewSubnetScanner(batchSize int, timeout time.Duration, ports []int) *SubnetScanner {
	if batchSize <= 0 {
		batchSize = 25
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	if len(ports) == 0 {
		ports = []int{8888}
	}
	return &SubnetScanner{
		batchSize: batchSize,
		timeout:   timeout,
		ports:     ports,
	}
}

// FindFirst sweeps cidr batch by batch and returns the lowest reachable
// address of the first batch that has one. Addresses in exclude are skipped.
func (s *SubnetScanner) FindFirst(ctx context.Context, cidr string, exclude ...string) (string, error) {
	ips, err := expandCIDR(cidr)
	if err != nil {
		return "", fmt.Errorf("invalid CIDR: %w", err)
	}

	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}
	candidates := ips[:0]
	for _, ip := range ips {
		if !skip[ip] {
			candidates = append(candidates, ip)
		}
	}

	for start := 0; start < len(candidates); start += s.batchSize {
		end := start + s.batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]
		alive := make([]bool, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		for i, ip := range batch {
			i, ip := i, ip
			g.Go(func() error {
				alive[i] = s.reachable(gctx, ip)
				return nil
			})
		}
		_ = g.Wait()

		for i, ok := range alive {
			if ok {
				return batch[i], nil
			}
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("no reachable host in %s", cidr)
}

// reachable tries each port with a TCP connect. A refused connection still
// proves the host is up.
func (s *SubnetScanner) reachable(ctx context.Context, ip string) bool {
	for _, port := range s.ports {
		dctx, cancel := context.WithTimeout(ctx, s.timeout)
		var d net.Dialer
		conn, err := d.DialContext(dctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
		cancel()

		if err == nil {
			conn.Close()
			return true
		}
		if isConnectionRefused(err) {
			return true
		}
	}
	return false
}

// expandCIDR expands a CIDR to its host addresses, excluding the network
// and broadcast addresses.
func expandCIDR(cidr string) ([]string, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}

	var ips []string
	for ip := ip.Mask(ipnet.Mask); ipnet.Contains(ip); incIP(ip) {
		ips = append(ips, ip.String())
	}

	if len(ips) > 2 {
		ips = ips[1 : len(ips)-1]
	}

	return ips, nil
}

func incIP(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}

func isConnectionRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}
