package service

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/krau/visualnarrator/errs"
)

type State int32

const (
	StateLoading State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "Loading"
	case StateReady:
		return "Ready"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(s))
	}
}

// Handles holds the loaded models. It leaves Loading exactly once; after
// that the models are only read, so callers share them without locking.
type Handles struct {
	state  atomic.Int32
	once   sync.Once
	models *Models
	err    error
}

func NewHandles() *Handles {
	return &Handles{}
}

func (h *Handles) State() State {
	return State(h.state.Load())
}

// resolve records the load outcome. Later calls are ignored.
func (h *Handles) resolve(m *Models, err error) bool {
	applied := false
	h.once.Do(func() {
		applied = true
		if err != nil {
			h.err = err
			h.state.Store(int32(StateFailed))
			return
		}
		h.models = m
		h.state.Store(int32(StateReady))
	})
	return applied
}

// Models returns the loaded models, or a NotReady error while loading and
// the load error once failed.
func (h *Handles) Models() (*Models, error) {
	switch h.State() {
	case StateReady:
		return h.models, nil
	case StateFailed:
		return nil, errs.New(errs.KindNotReady, "models not ready", h.err)
	default:
		return nil, errs.NotReady("models not ready: still loading")
	}
}

// Err is the load error once Failed.
func (h *Handles) Err() error {
	if h.State() != StateFailed {
		return nil
	}
	return h.err
}
