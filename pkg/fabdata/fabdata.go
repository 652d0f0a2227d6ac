// Package fabdata handles fabrication element data files and pick station setup
package fabdata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/rapidclay/fabrun/pkg/types"
)

// Element is one clay element of the fabrication sequence: where to place
// it and what happened to it during the run.
type Element struct {
	ID       string      `json:"id"`
	Location types.Frame `json:"location"`
	// Height of the unplaced element in mm, used to compute the top
	// frame the tool descends to.
	Height float64 `json:"height"`
	// TrajectoryTo/TrajectoryFrom are optional pre-taught travel frames
	// entered before the placement approach and after the retreat.
	TrajectoryTo   []types.Frame `json:"trajectory_to,omitempty"`
	TrajectoryFrom []types.Frame `json:"trajectory_from,omitempty"`

	PlacedAt  *time.Time    `json:"placed_at,omitempty"`
	CycleTime types.Seconds `json:"cycle_time,omitempty"`
}

// TopFrame is the frame at the upper face of the element once placed.
func (e *Element) TopFrame() types.Frame {
	return e.Location.Offset(e.Height)
}

// Placed reports whether the element already carries a placement
// timestamp.
func (e *Element) Placed() bool {
	return e.PlacedAt != nil
}

// LoadElements reads a fabrication data file: a JSON array of elements in
// placement order. Elements without an id are assigned one.
func LoadElements(path string) ([]*Element, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fabrication data: %w", err)
	}

	var elements []*Element
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, fmt.Errorf("invalid fabrication data %s: %w", filepath.Base(path), err)
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("fabrication data %s holds no elements", filepath.Base(path))
	}

	for i, e := range elements {
		if e == nil {
			return nil, fmt.Errorf("fabrication data %s: element %d is null", filepath.Base(path), i)
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Height <= 0 {
			return nil, fmt.Errorf("fabrication data %s: element %s height must be > 0", filepath.Base(path), e.ID)
		}
	}

	return elements, nil
}

// Unplaced filters out elements that already carry a placement timestamp,
// so a restarted run continues where the previous one stopped.
func Unplaced(elements []*Element) []*Element {
	remaining := make([]*Element, 0, len(elements))
	for _, e := range elements {
		if !e.Placed() {
			remaining = append(remaining, e)
		}
	}
	return remaining
}
