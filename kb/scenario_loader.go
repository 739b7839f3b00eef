package kb

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/signalsfoundry/uav-delivery-sim/core"
	"github.com/signalsfoundry/uav-delivery-sim/model"
)

// Request asks for one packet from Source to each of Destinations, sent as
// a merged multicast batch.
type Request struct {
	Source       model.NodeID
	Destinations []model.NodeID
}

// Scenario is a summary of what was loaded from JSON.
type Scenario struct {
	NodeIDs  []model.NodeID
	Requests []Request
}

// internal JSON shapes – keep them unexported so we're free to evolve them.
type scenarioJSON struct {
	Nodes    []nodeJSON    `json:"nodes"`
	Requests []requestJSON `json:"requests"`
}

type nodeJSON struct {
	ID int     `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
}

type requestJSON struct {
	Source       int   `json:"source"`
	Destinations []int `json:"destinations"`
}

// LoadScenario reads a JSON scenario from r, adds its nodes to the
// KnowledgeBase, and returns the node IDs and requests it declared.
// Requests must reference declared nodes and may not target their source.
func LoadScenario(kb *KnowledgeBase, r io.Reader) (*Scenario, error) {
	if kb == nil {
		return nil, fmt.Errorf("LoadScenario: kb is nil")
	}

	var payload scenarioJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}

	result := &Scenario{
		NodeIDs:  make([]model.NodeID, 0, len(payload.Nodes)),
		Requests: make([]Request, 0, len(payload.Requests)),
	}

	declared := make(map[model.NodeID]struct{}, len(payload.Nodes))
	for _, n := range payload.Nodes {
		id := model.NodeID(n.ID)
		if err := kb.AddNode(core.NewNode(id, core.Vec3{X: n.X, Y: n.Y, Z: n.Z})); err != nil {
			return nil, fmt.Errorf("LoadScenario: %w", err)
		}
		declared[id] = struct{}{}
		result.NodeIDs = append(result.NodeIDs, id)
	}
	sort.Slice(result.NodeIDs, func(i, j int) bool { return result.NodeIDs[i] < result.NodeIDs[j] })

	for i, req := range payload.Requests {
		src := model.NodeID(req.Source)
		if _, ok := declared[src]; !ok {
			return nil, fmt.Errorf("LoadScenario: request %d: %w: source %v", i, ErrNodeNotFound, src)
		}
		if len(req.Destinations) == 0 {
			return nil, fmt.Errorf("LoadScenario: request %d has no destinations", i)
		}
		out := Request{Source: src}
		for _, d := range req.Destinations {
			dst := model.NodeID(d)
			if _, ok := declared[dst]; !ok {
				return nil, fmt.Errorf("LoadScenario: request %d: %w: destination %v", i, ErrNodeNotFound, dst)
			}
			if dst == src {
				return nil, fmt.Errorf("LoadScenario: request %d targets its own source %v", i, src)
			}
			out.Destinations = append(out.Destinations, dst)
		}
		result.Requests = append(result.Requests, out)
	}
	return result, nil
}
