package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Service-discovery metadata keys broadcast by every node.
const (
	KeyNodeID      = "id"
	KeyName        = "name"
	KeyBattery     = "bat"
	KeyInternet    = "net"
	KeyLatitude    = "lat"
	KeyLongitude   = "lng"
	KeySignal      = "sig"
	KeyTriage      = "triage"
	KeyRole        = "role"
	KeyRelay       = "relay"
	defaultSignal  = -70
	minSignalValue = -120
)

// EncodeMetadata flattens a node's advertised state into the key/value map
// carried by service discovery.
func EncodeMetadata(n NodeInfo) map[string]string {
	return map[string]string{
		KeyNodeID:    n.ID,
		KeyName:      n.DisplayName,
		KeyBattery:   strconv.Itoa(n.Battery),
		KeyInternet:  strconv.FormatBool(n.HasInternet),
		KeyLatitude:  strconv.FormatFloat(n.Latitude, 'f', 6, 64),
		KeyLongitude: strconv.FormatFloat(n.Longitude, 'f', 6, 64),
		KeySignal:    strconv.Itoa(n.SignalStrength),
		KeyTriage:    n.TriageLevel,
		KeyRole:      n.Role,
		KeyRelay:     strconv.FormatBool(n.RelayAvailable),
	}
}

// MetadataToTXT renders the map as "k=v" records in a fixed key order.
func MetadataToTXT(meta map[string]string) []string {
	keys := []string{KeyNodeID, KeyName, KeyBattery, KeyInternet, KeyLatitude,
		KeyLongitude, KeySignal, KeyTriage, KeyRole, KeyRelay}
	txt := make([]string, 0, len(keys))
	for _, k := range keys {
		if v, ok := meta[k]; ok && v != "" {
			txt = append(txt, k+"="+v)
		}
	}
	return txt
}

// TXTToMetadata parses "k=v" records. Malformed records are skipped.
func TXTToMetadata(fields []string) map[string]string {
	meta := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			continue
		}
		meta[k] = v
	}
	return meta
}

// ParseNodeInfo validates a discovery record once at the boundary. The node
// id is mandatory; numeric fields fall back to neutral values when missing
// and are clamped into their valid ranges.
func ParseNodeInfo(meta map[string]string, address string, seen time.Time) (NodeInfo, error) {
	id := strings.TrimSpace(meta[KeyNodeID])
	if id == "" {
		return NodeInfo{}, fmt.Errorf("metadata has no %q key", KeyNodeID)
	}

	n := NodeInfo{
		ID:             id,
		DisplayName:    meta[KeyName],
		Address:        address,
		SignalStrength: defaultSignal,
		TriageLevel:    meta[KeyTriage],
		Role:           meta[KeyRole],
		RelayAvailable: true,
		LastSeen:       seen,
	}
	if n.DisplayName == "" {
		n.DisplayName = id
	}

	if v, ok := meta[KeyBattery]; ok {
		b, err := strconv.Atoi(v)
		if err != nil {
			return NodeInfo{}, fmt.Errorf("invalid battery %q: %w", v, err)
		}
		n.Battery = clampInt(b, 0, 100)
	}
	if v, ok := meta[KeyInternet]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return NodeInfo{}, fmt.Errorf("invalid internet flag %q: %w", v, err)
		}
		n.HasInternet = b
	}
	if v, ok := meta[KeySignal]; ok {
		s, err := strconv.Atoi(v)
		if err != nil {
			return NodeInfo{}, fmt.Errorf("invalid signal %q: %w", v, err)
		}
		n.SignalStrength = clampInt(s, minSignalValue, 0)
	}
	if v, ok := meta[KeyLatitude]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return NodeInfo{}, fmt.Errorf("invalid latitude %q: %w", v, err)
		}
		n.Latitude = f
	}
	if v, ok := meta[KeyLongitude]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return NodeInfo{}, fmt.Errorf("invalid longitude %q: %w", v, err)
		}
		n.Longitude = f
	}
	if v, ok := meta[KeyRelay]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			n.RelayAvailable = b
		}
	}

	return n, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
