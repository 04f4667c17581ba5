// Package model defines core data structures for rescuemesh.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NodeInfo is a neighbor's advertised state. Values are superseded on every
// re-announcement and never mutated in place.
type NodeInfo struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"display_name"`
	Address        string    `json:"address"`
	Battery        int       `json:"battery"`
	HasInternet    bool      `json:"has_internet"`
	SignalStrength int       `json:"signal_strength"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	TriageLevel    string    `json:"triage_level,omitempty"`
	Role           string    `json:"role,omitempty"`
	RelayAvailable bool      `json:"relay_available"`
	LastSeen       time.Time `json:"last_seen"`
}

// WithLastSeen returns a copy of n refreshed at t.
func (n NodeInfo) WithLastSeen(t time.Time) NodeInfo {
	n.LastSeen = t
	return n
}

// PacketType classifies mesh traffic.
type PacketType int

const (
	PacketSOS PacketType = iota
	PacketData
	PacketAck
)

var packetTypeNames = map[PacketType]string{
	PacketSOS:  "SOS",
	PacketData: "DATA",
	PacketAck:  "ACK",
}

func (t PacketType) String() string {
	if s, ok := packetTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("PacketType(%d)", int(t))
}

// MarshalText encodes the type by name.
func (t PacketType) MarshalText() ([]byte, error) {
	s, ok := packetTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown packet type %d", int(t))
	}
	return []byte(s), nil
}

// UnmarshalText decodes a type name.
func (t *PacketType) UnmarshalText(b []byte) error {
	p, err := ParsePacketType(string(b))
	if err != nil {
		return err
	}
	*t = p
	return nil
}

// ParsePacketType parses a case-insensitive packet type name.
func ParsePacketType(s string) (PacketType, error) {
	for k, v := range packetTypeNames {
		if strings.EqualFold(v, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown packet type %q", s)
}

// Priority orders packets from LOW to CRITICAL.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "LOW",
	PriorityMedium:   "MEDIUM",
	PriorityHigh:     "HIGH",
	PriorityCritical: "CRITICAL",
}

func (p Priority) String() string {
	if s, ok := priorityNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// MarshalText encodes the priority by name.
func (p Priority) MarshalText() ([]byte, error) {
	s, ok := priorityNames[p]
	if !ok {
		return nil, fmt.Errorf("unknown priority %d", int(p))
	}
	return []byte(s), nil
}

// UnmarshalText decodes a priority name.
func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePriority parses a case-insensitive priority name.
func ParsePriority(s string) (Priority, error) {
	for k, v := range priorityNames {
		if strings.EqualFold(v, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// MeshPacket is the unit of mesh traffic. A new value is derived at every
// hop with AddHop; callers never mutate a packet they have handed off.
type MeshPacket struct {
	ID           string     `json:"id"`
	OriginatorID string     `json:"originator_id"`
	Type         PacketType `json:"packet_type"`
	Priority     Priority   `json:"priority"`
	Timestamp    time.Time  `json:"timestamp"`
	Trace        []string   `json:"trace"`
	TTL          int        `json:"ttl"`
	Payload      string     `json:"payload"`
}

// NewPacket creates a packet at its originating node. The originator is the
// first entry of the trace.
func NewPacket(originatorID string, typ PacketType, priority Priority, payload string, ttl int) MeshPacket {
	if ttl < 0 {
		ttl = 0
	}
	return MeshPacket{
		ID:           uuid.NewString(),
		OriginatorID: originatorID,
		Type:         typ,
		Priority:     priority,
		Timestamp:    time.Now().UTC(),
		Trace:        []string{originatorID},
		TTL:          ttl,
		Payload:      payload,
	}
}

// IsAlive reports whether the packet still has hop budget.
func (p MeshPacket) IsAlive() bool {
	return p.TTL > 0
}

// HopCount is the number of nodes the packet has visited.
func (p MeshPacket) HopCount() int {
	return len(p.Trace)
}

// InTrace reports whether id already appears in the trace.
func (p MeshPacket) InTrace(id string) bool {
	for _, t := range p.Trace {
		if t == id {
			return true
		}
	}
	return false
}

// AddHop derives the packet forwarded by nodeID: the id is appended to the
// trace unless already present and ttl drops by one, never below zero.
func (p MeshPacket) AddHop(nodeID string) MeshPacket {
	next := p
	next.Trace = make([]string, len(p.Trace), len(p.Trace)+1)
	copy(next.Trace, p.Trace)
	if !p.InTrace(nodeID) {
		next.Trace = append(next.Trace, nodeID)
	}
	next.TTL = p.TTL - 1
	if next.TTL < 0 {
		next.TTL = 0
	}
	return next
}

// Marshal encodes the packet for the wire.
func (p MeshPacket) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalPacket decodes a wire payload and checks basic invariants.
func UnmarshalPacket(data []byte) (MeshPacket, error) {
	var p MeshPacket
	if err := json.Unmarshal(data, &p); err != nil {
		return MeshPacket{}, fmt.Errorf("failed to decode packet: %w", err)
	}
	if p.ID == "" {
		return MeshPacket{}, fmt.Errorf("packet has no id")
	}
	if p.TTL < 0 {
		return MeshPacket{}, fmt.Errorf("packet %s has negative ttl %d", p.ID, p.TTL)
	}
	return p, nil
}

// Route cache tuning.
const (
	RouteMaxFailures    = 5
	RouteStaleAfter     = 5 * time.Minute
	RouteSuccessReward  = 5
	RouteFailurePenalty = 10
)

// RoutingEntry is an opportunistic route cache record.
type RoutingEntry struct {
	DestinationID string    `json:"destination_id"`
	NextHopID     string    `json:"next_hop_id"`
	HopCount      int       `json:"hop_count"`
	Score         float64   `json:"score"`
	LastUpdated   time.Time `json:"last_updated"`
	IsActive      bool      `json:"is_active"`
	SuccessCount  int       `json:"success_count"`
	FailureCount  int       `json:"failure_count"`

	// consecutive failures since the last success
	FailureStreak int `json:"failure_streak"`
}

// RecordSuccess returns the entry after a successful relay.
func (e RoutingEntry) RecordSuccess(now time.Time) RoutingEntry {
	e.SuccessCount++
	e.FailureStreak = 0
	e.IsActive = true
	e.Score = clampScore(e.Score + RouteSuccessReward)
	e.LastUpdated = now
	return e
}

// RecordFailure returns the entry after a failed relay. Five consecutive
// failures deactivate it.
func (e RoutingEntry) RecordFailure(now time.Time) RoutingEntry {
	e.FailureCount++
	e.FailureStreak++
	e.Score = clampScore(e.Score - RouteFailurePenalty)
	if e.FailureStreak >= RouteMaxFailures {
		e.IsActive = false
	}
	e.LastUpdated = now
	return e
}

// IsStale reports whether the entry has not been touched for RouteStaleAfter.
func (e RoutingEntry) IsStale(now time.Time) bool {
	return now.Sub(e.LastUpdated) > RouteStaleAfter
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// RelayStats is recomputed from orchestrator state on demand.
type RelayStats struct {
	PacketsSent         int  `json:"packets_sent"`
	PacketsFailed       int  `json:"packets_failed"`
	PacketsDelivered    int  `json:"packets_delivered"`
	PendingCount        int  `json:"pending_count"`
	NeighborsCount      int  `json:"neighbors_count"`
	IsRunning           bool `json:"is_running"`
	ConsecutiveFailures int  `json:"consecutive_failures"`
}

// RelayStatus names the outcome of a relay step.
type RelayStatus string

const (
	StatusSuccess   RelayStatus = "success"
	StatusFailure   RelayStatus = "failure"
	StatusDropped   RelayStatus = "dropped"
	StatusQueued    RelayStatus = "queued"
	StatusDelivered RelayStatus = "delivered"
	StatusCooldown  RelayStatus = "cooldown"
	StatusDuplicate RelayStatus = "duplicate"
	StatusBusy      RelayStatus = "busy"
)

// RelayEvent is handed to the outbox/event log after every relay step.
type RelayEvent struct {
	ID        int64       `json:"id"`
	PacketID  string      `json:"packet_id"`
	TargetID  string      `json:"target_id"`
	Status    RelayStatus `json:"status"`
	HopCount  int         `json:"hop_count"`
	Trace     []string    `json:"trace,omitempty"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}

// ReportOptions defines options for report generation.
type ReportOptions struct {
	Since      time.Time `json:"since"`
	Until      time.Time `json:"until"`
	Format     string    `json:"format"`
	OutputPath string    `json:"output_path"`
}
