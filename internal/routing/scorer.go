// Package routing picks the next hop for a packet.
package routing

import "github.com/user/rescuemesh/internal/model"

// Score weights. Internet access alone outweighs the best possible battery
// and signal contribution (25 + 10.2).
const (
	InternetWeight = 50.0
	BatteryWeight  = 0.25
	SignalWeight   = 0.17

	signalFloor = -90
	signalRange = 60
)

// Score rates a neighbor as next hop for packet. It is pure and O(1).
func Score(candidate model.NodeInfo, packet model.MeshPacket, contextNodeID string) float64 {
	score := 0.0
	if candidate.HasInternet {
		score += InternetWeight
	}

	battery := candidate.Battery
	if battery < 0 {
		battery = 0
	} else if battery > 100 {
		battery = 100
	}
	score += BatteryWeight * float64(battery)

	sig := candidate.SignalStrength - signalFloor
	if sig < 0 {
		sig = 0
	} else if sig > signalRange {
		sig = signalRange
	}
	score += SignalWeight * float64(sig)

	return score
}
