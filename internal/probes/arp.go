package probes

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
)

// DefaultARPPath is the kernel's IPv4 neighbor table.
const DefaultARPPath = "/proc/net/arp"

// ARPEntry is one resolved row of the ARP table.
type ARPEntry struct {
	IP     string
	HWAddr string
	Device string
}

// ARPTable reads the kernel neighbor table on every lookup; entries appear
// while a peer's address assignment settles, so nothing is cached.
type ARPTable struct {
	path string
}

// NewARPTable creates a reader for the table at path (DefaultARPPath when empty).
func NewARPTable(path string) *ARPTable {
	if path == "" {
		path = DefaultARPPath
	}
	return &ARPTable{path: path}
}

// Entries returns all complete entries.
func (a *ARPTable) Entries() ([]ARPEntry, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ARP table: %w", err)
	}
	defer f.Close()
	return ParseARP(f)
}

// LookupHW returns the IP bound to a hardware address.
func (a *ARPTable) LookupHW(hw string) (string, bool) {
	entries, err := a.Entries()
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if strings.EqualFold(e.HWAddr, hw) {
			return e.IP, true
		}
	}
	return "", false
}

// AnyInSubnet returns the first entry inside cidr that is not excluded.
// This finds a peer even when its hardware address was randomized.
func (a *ARPTable) AnyInSubnet(cidr string, exclude ...string) (string, bool) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return "", false
	}
	entries, err := a.Entries()
	if err != nil {
		return "", false
	}
	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}
	for _, e := range entries {
		ip := net.ParseIP(e.IP)
		if ip == nil || skip[e.IP] || !ipnet.Contains(ip) {
			continue
		}
		return e.IP, true
	}
	return "", false
}

// ParseARP parses the /proc/net/arp format, dropping the header and
// incomplete entries.
func ParseARP(r io.Reader) ([]ARPEntry, error) {
	var entries []ARPEntry
	scanner := bufio.NewScanner(r)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first {
			first = false
			if strings.HasPrefix(line, "IP address") {
				continue
			}
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		// flags 0x0 means the entry never resolved
		if fields[2] == "0x0" || fields[3] == "00:00:00:00:00:00" {
			continue
		}
		e := ARPEntry{IP: fields[0], HWAddr: strings.ToLower(fields[3])}
		if len(fields) >= 6 {
			e.Device = fields[5]
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
