package routing

import (
	"sort"

	"github.com/user/rescuemesh/internal/model"
)

// ScoredNode is a ranked candidate.
type ScoredNode struct {
	Node  model.NodeInfo `json:"node"`
	Score float64        `json:"score"`
}

// Decision is the outcome of one routing decision. Selected is nil when
// no neighbor is eligible.
type Decision struct {
	Selected   *model.NodeInfo `json:"selected,omitempty"`
	Candidates []ScoredNode    `json:"candidates"`
}

// Router selects forwarding targets. It never mutates the neighbors it is
// given.
type Router struct {
	score func(model.NodeInfo, model.MeshPacket, string) float64
}

// NewRouter creates a router using Score.
func NewRouter() *Router {
	return &Router{score: Score}
}

// ShouldDeliverHere reports whether the current node is a goal node.
func (r *Router) ShouldDeliverHere(packet model.MeshPacket, currentNodeHasInternet bool) bool {
	return currentNodeHasInternet
}

// SelectBestNode returns the highest scoring eligible neighbor. The
// originator, every node already in the trace and the current node are
// never eligible. Ties go to the neighbor listed first.
func (r *Router) SelectBestNode(neighbors []model.NodeInfo, packet model.MeshPacket, currentNodeID string) *model.NodeInfo {
	return r.MakeRoutingDecision(packet, neighbors, currentNodeID).Selected
}

// MakeRoutingDecision ranks all eligible neighbors and selects the best.
func (r *Router) MakeRoutingDecision(packet model.MeshPacket, neighbors []model.NodeInfo, currentNodeID string) Decision {
	excluded := make(map[string]struct{}, len(packet.Trace)+2)
	excluded[packet.OriginatorID] = struct{}{}
	excluded[currentNodeID] = struct{}{}
	for _, id := range packet.Trace {
		excluded[id] = struct{}{}
	}

	candidates := make([]ScoredNode, 0, len(neighbors))
	for _, n := range neighbors {
		if _, skip := excluded[n.ID]; skip {
			continue
		}
		candidates = append(candidates, ScoredNode{Node: n, Score: r.score(n, packet, currentNodeID)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	d := Decision{Candidates: candidates}
	if len(candidates) > 0 {
		best := candidates[0].Node
		d.Selected = &best
	}
	return d
}
