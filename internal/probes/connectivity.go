// Package probes provides network probing functionality.
package probes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Endpoint is an HTTP endpoint used to detect internet access.
type Endpoint struct {
	Name string
	URL  string
}

// DefaultEndpoints returns the default connectivity endpoints.
func DefaultEndpoints() []Endpoint {
	return []Endpoint{
		{Name: "google", URL: "http://connectivitycheck.gstatic.com/generate_204"},
		{Name: "cloudflare", URL: "http://cp.cloudflare.com/generate_204"},
		{Name: "ipify", URL: "https://api.ipify.org"},
	}
}

// ConnectivityProbe decides whether this node is a goal node.
type ConnectivityProbe struct {
	endpoints []Endpoint
	client    *http.Client
	timeout   time.Duration
}

// NewConnectivityProbe creates a probe over the given endpoints
// (DefaultEndpoints when empty).
func NewConnectivityProbe(endpoints []Endpoint) *ConnectivityProbe {
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints()
	}
	return &ConnectivityProbe{
		endpoints: endpoints,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		timeout: 5 * time.Second,
	}
}

// Check returns true as soon as any endpoint answers with a 2xx status.
func (p *ConnectivityProbe) Check(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	results := make(chan error, len(p.endpoints))
	for _, ep := range p.endpoints {
		go func(ep Endpoint) {
			if err := p.fetch(ctx, ep.URL); err != nil {
				results <- fmt.Errorf("%s: %w", ep.Name, err)
				return
			}
			results <- nil
		}(ep)
	}

	var errs []error
	for i := 0; i < len(p.endpoints); i++ {
		select {
		case err := <-results:
			if err == nil {
				return true, nil
			}
			errs = append(errs, err)
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	return false, fmt.Errorf("all endpoints failed: %v", errs)
}

func (p *ConnectivityProbe) fetch(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "rescuemesh/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
