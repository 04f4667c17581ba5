package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/hashicorp/mdns"

	"github.com/user/rescuemesh/internal/model"
	"github.com/user/rescuemesh/internal/util"
)

const defaultDomain = "local."

// InfoFunc returns this node's current advertised state.
type InfoFunc func() model.NodeInfo

// Advertiser publishes this node's metadata as mDNS TXT records. While
// paused, refreshes are deferred until Resume.
type Advertiser struct {
	service string
	domain  string
	port    int
	ips     []net.IP
	info    InfoFunc

	mu     sync.Mutex
	server *mdns.Server
	paused bool
	dirty  bool

	log *util.Logger
}

// NewAdvertiser creates an advertiser for service (e.g. "_rescuenet._tcp").
// ips may be nil to let the host name resolve them.
func NewAdvertiser(service string, port int, ips []net.IP, info InfoFunc) *Advertiser {
	return &Advertiser{
		service: service,
		domain:  defaultDomain,
		port:    port,
		ips:     ips,
		info:    info,
		log:     util.Named("discovery"),
	}
}

// TXT returns the records the next publication will carry.
func (a *Advertiser) TXT() []string {
	return model.MetadataToTXT(model.EncodeMetadata(a.info()))
}

// Start publishes the current metadata.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.publishLocked()
}

// Refresh re-publishes with fresh metadata, or marks it pending while
// paused.
func (a *Advertiser) Refresh() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.paused {
		a.dirty = true
		return nil
	}
	return a.publishLocked()
}

// Pause defers re-advertisement while a relay attempt holds the link.
func (a *Advertiser) Pause() {
	a.mu.Lock()
	a.paused = true
	a.mu.Unlock()
}

// Resume lifts Pause and publishes any refresh that was deferred.
func (a *Advertiser) Resume() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paused = false
	if !a.dirty {
		return
	}
	if err := a.publishLocked(); err != nil {
		a.log.Warn("Deferred re-advertisement failed: %v", err)
	}
}

// Paused reports whether advertisement is paused.
func (a *Advertiser) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return nil
	}
	err := a.server.Shutdown()
	a.server = nil
	return err
}

func (a *Advertiser) publishLocked() error {
	a.dirty = false
	if a.server != nil {
		_ = a.server.Shutdown()
		a.server = nil
	}

	info := a.info()
	txt := model.MetadataToTXT(model.EncodeMetadata(info))

	service, err := mdns.NewMDNSService(instanceName(info.ID), a.service, a.domain, "", a.port, a.ips, txt)
	if err != nil {
		return fmt.Errorf("failed to create mDNS service: %w", err)
	}

	// the multicast socket can be briefly unavailable while interfaces settle
	var server *mdns.Server
	err = retry.Do(
		func() error {
			s, err := mdns.NewServer(&mdns.Config{Zone: service})
			if err != nil {
				return err
			}
			server = s
			return nil
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("failed to start mDNS server: %w", err)
	}

	a.server = server
	a.log.Debug("Advertising %s on %s: %v", info.ID, a.service, txt)
	return nil
}

func instanceName(id string) string {
	name := strings.NewReplacer(".", "-", " ", "-").Replace(id)
	if name == "" {
		name = "node"
	}
	return "rescuemesh-" + name
}

// Browser queries the network for other nodes' metadata.
type Browser struct {
	service string
	domain  string
	timeout time.Duration
	table   *NeighborTable
	log     *util.Logger
}

// NewBrowser creates a browser feeding table.
func NewBrowser(service string, timeout time.Duration, table *NeighborTable) *Browser {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Browser{
		service: service,
		domain:  strings.TrimSuffix(defaultDomain, "."),
		timeout: timeout,
		table:   table,
		log:     util.Named("discovery"),
	}
}

// Query runs one browse round and upserts every valid announcement.
func (b *Browser) Query(ctx context.Context) ([]model.NodeInfo, error) {
	timeout := b.timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, ctx.Err()
	}

	now := time.Now
	if b.table != nil {
		now = b.table.clock.Now
	}

	entries := make(chan *mdns.ServiceEntry, 16)
	var found []model.NodeInfo
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			n, err := NodeFromEntry(entry, now())
			if err != nil {
				b.log.Debug("Ignoring announcement %s: %v", entry.Name, err)
				continue
			}
			if b.table != nil && b.table.Upsert(n) {
				b.log.Info("Discovered neighbor %s (%s) at %s", n.ID, n.DisplayName, n.Address)
			}
			found = append(found, n)
		}
	}()

	err := mdns.Query(&mdns.QueryParam{
		Service:             b.service,
		Domain:              b.domain,
		Timeout:             timeout,
		Entries:             entries,
		WantUnicastResponse: true,
	})
	close(entries)
	<-done

	if err != nil {
		return found, fmt.Errorf("mDNS query failed: %w", err)
	}
	return found, nil
}

// NodeFromEntry parses an mDNS answer into a NodeInfo.
func NodeFromEntry(entry *mdns.ServiceEntry, seen time.Time) (model.NodeInfo, error) {
	if entry == nil {
		return model.NodeInfo{}, fmt.Errorf("empty entry")
	}
	fields := entry.InfoFields
	if len(fields) == 0 && entry.Info != "" {
		fields = strings.Split(entry.Info, "|")
	}

	var addr string
	switch {
	case entry.AddrV4 != nil:
		addr = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		addr = entry.AddrV6.String()
	}

	return model.ParseNodeInfo(model.TXTToMetadata(fields), addr, seen)
}
