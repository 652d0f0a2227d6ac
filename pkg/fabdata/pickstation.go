package fabdata

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rapidclay/fabrun/pkg/types"
)

// PickStation cycles through a fixed set of pre-taught pick frames. The
// physical station is reloaded by hand in the same order, so frames are
// handed out round-robin.
type PickStation struct {
	frames  []types.Frame
	counter int
	mu      sync.Mutex
}

// NewPickStation builds a station from its pick frames.
func NewPickStation(frames []types.Frame) (*PickStation, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("pick station needs at least one pick frame")
	}
	return &PickStation{frames: frames}, nil
}

// LoadPickStation reads a pick station configuration file: either a bare
// JSON array of frames or an object with a pick_frames key.
func LoadPickStation(path string) (*PickStation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pick station config: %w", err)
	}

	var frames []types.Frame
	if err := json.Unmarshal(data, &frames); err != nil {
		var wrapper struct {
			PickFrames []types.Frame `json:"pick_frames"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("invalid pick station config: %w", err)
		}
		frames = wrapper.PickFrames
	}

	return NewPickStation(frames)
}

// Next returns the pick frame for the given element: the next station
// slot, offset upward by the element height so the tool meets the top of
// the material.
func (p *PickStation) Next(elem *Element) types.Frame {
	p.mu.Lock()
	idx := p.counter % len(p.frames)
	p.counter++
	p.mu.Unlock()

	return p.frames[idx].Offset(elem.Height)
}
