package daemon

import (
	"context"
	"time"

	"github.com/user/rescuemesh/internal/model"
	"github.com/user/rescuemesh/internal/util"
)

const (
	outboxBatch    = 32
	eventRetention = 30 * 24 * time.Hour
	statusInterval = 10 * time.Second

	// a single relay attempt can spend most of a minute negotiating
	drainTimeout = 5 * time.Minute
)

// registerJobs registers the relay loop jobs with the scheduler.
func (d *Daemon) registerJobs() {
	d.scheduler.AddJob(&Job{
		Name:     "outbox_pickup",
		Interval: 2 * time.Second,
		Run:      d.runOutboxPickup,
	})

	d.scheduler.AddJob(&Job{
		Name:     "relay_drain",
		Interval: d.config.RelayInterval,
		Timeout:  drainTimeout,
		Run:      d.runRelayDrain,
	})

	d.scheduler.AddJob(&Job{
		Name:     "discovery_refresh",
		Interval: d.config.DiscoveryInterval,
		Run:      d.runDiscovery,
	})

	d.scheduler.AddJob(&Job{
		Name:     "connectivity_check",
		Interval: d.config.ConnectivityInterval,
		Run:      d.runConnectivityCheck,
	})

	d.scheduler.AddJob(&Job{
		Name:     "route_prune",
		Interval: d.config.RoutePruneInterval,
		Run:      d.runRoutePrune,
	})

	d.scheduler.AddJob(&Job{
		Name:     "status_write",
		Interval: statusInterval,
		Run:      d.runStatusWrite,
	})
}

// runOutboxPickup moves packets queued by `rescuemesh send` into the relay.
func (d *Daemon) runOutboxPickup(ctx context.Context) error {
	items, err := d.node.outbox.Pending(outboxBatch)
	if err != nil {
		return err
	}

	picked := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		out := d.node.orch.Accept(item.Packet)
		util.Info("Picked up %s packet %s: %s", item.Packet.Type, item.Packet.ID, out.Status)
		if err := d.node.outbox.MarkPicked(item.ID); err != nil {
			return err
		}
		picked++
	}

	if picked > 0 && d.scheduler != nil {
		d.scheduler.TriggerJob("relay_drain")
	}
	return nil
}

func (d *Daemon) runRelayDrain(ctx context.Context) error {
	if d.node.orch.QueueLen() == 0 {
		return nil
	}

	outcomes := d.node.orch.Drain(ctx)
	sent := 0
	for _, out := range outcomes {
		if out.Status == model.StatusSuccess {
			sent++
		}
	}
	util.Debug("Relay pass: %d attempts, %d sent, %d pending", len(outcomes), sent, d.node.orch.QueueLen())
	return nil
}

func (d *Daemon) runDiscovery(ctx context.Context) error {
	n := d.node

	// browsing is passive, but stay quiet while a relay owns the link
	if n.advertiser.Paused() {
		return nil
	}

	found, err := n.browser.Query(ctx)
	for _, id := range n.table.Expire() {
		util.Info("Neighbor %s expired", id)
	}
	n.metrics.SetNeighbors(n.table.Len())
	util.Debug("Discovery round: %d answers, %d neighbors", len(found), n.table.Len())

	if rerr := n.advertiser.Refresh(); rerr != nil {
		util.Warn("Failed to refresh advertisement: %v", rerr)
	}
	return err
}

func (d *Daemon) runConnectivityCheck(ctx context.Context) error {
	n := d.node

	var online bool
	switch d.config.InternetMode {
	case "on":
		online = true
	case "off":
		online = false
	default:
		ok, err := n.probe.Check(ctx)
		if err != nil {
			util.Debug("Connectivity probe: %v", err)
		}
		online = ok
	}

	changed := n.orch.HasInternet() != online
	n.orch.SetInternet(online)
	n.metrics.SetInternet(online)

	if changed {
		// neighbors route on this flag
		if err := n.advertiser.Refresh(); err != nil {
			util.Warn("Failed to refresh advertisement: %v", err)
		}
	}
	return nil
}

func (d *Daemon) runRoutePrune(ctx context.Context) error {
	n := d.node
	now := time.Now()

	if dropped := n.orch.Routes().Prune(now); dropped > 0 {
		util.Info("Pruned %d stale routes", dropped)
	}
	if err := n.routes.Replace(n.orch.Routes().Snapshot()); err != nil {
		return err
	}

	if removed, err := n.events.Prune(now.Add(-eventRetention)); err != nil {
		return err
	} else if removed > 0 {
		util.Info("Removed %d old relay events", removed)
	}
	return nil
}

func (d *Daemon) runStatusWrite(ctx context.Context) error {
	return WriteStatusFile(d.config.DataDir, d.statusFile())
}
