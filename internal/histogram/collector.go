package histogram

import (
	"errors"
	"sync"
)

var ErrFinalized = errors.New("collector already finalized")

type flowSet struct {
	mu    sync.Mutex
	items []Histogram
}

// Collector gathers histograms per flow while a run is in progress.
// Writes for different flows proceed in parallel; writes for the same flow
// are serialized.
type Collector struct {
	mu        sync.RWMutex
	flows     map[string]*flowSet
	finalized bool
}

func NewCollector() *Collector {
	return &Collector{flows: make(map[string]*flowSet)}
}

// Ingest appends a histogram to the dataset of the named flow.
func (c *Collector) Ingest(flow string, h Histogram) error {
	set, err := c.set(flow)
	if err != nil {
		return err
	}

	set.mu.Lock()
	defer set.mu.Unlock()

	// Finalize may have won the race between set() and here.
	c.mu.RLock()
	done := c.finalized
	c.mu.RUnlock()
	if done {
		return ErrFinalized
	}

	set.items = append(set.items, h.Clone())
	return nil
}

func (c *Collector) set(flow string) (*flowSet, error) {
	c.mu.RLock()
	set, ok := c.flows[flow]
	done := c.finalized
	c.mu.RUnlock()
	if done {
		return nil, ErrFinalized
	}
	if ok {
		return set, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return nil, ErrFinalized
	}
	if set, ok = c.flows[flow]; !ok {
		set = &flowSet{}
		c.flows[flow] = set
	}
	return set, nil
}

// Finalize hands off everything collected. It can only be called once.
func (c *Collector) Finalize() (map[string][]Histogram, error) {
	c.mu.Lock()
	if c.finalized {
		c.mu.Unlock()
		return nil, ErrFinalized
	}
	c.finalized = true
	flows := c.flows
	c.flows = nil
	c.mu.Unlock()

	out := make(map[string][]Histogram, len(flows))
	for name, set := range flows {
		set.mu.Lock()
		out[name] = set.items
		set.mu.Unlock()
	}
	return out, nil
}
