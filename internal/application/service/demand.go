package service

import (
	"sync"

	"tickerhub/internal/application/port"
)

// DemandManager reference-counts ad-hoc consumer interest in single symbols,
// outside the rotation cadence. The upstream subscribe happens only on the
// 0→1 transition and the unsubscribe on the 1→0 transition, so concurrent
// acquirers of the same symbol share one live subscription.
type DemandManager struct {
	mu     sync.Mutex
	refs   map[string]int
	target port.Subscriber
}

func NewDemandManager(target port.Subscriber) *DemandManager {
	return &DemandManager{refs: make(map[string]int), target: target}
}

func (d *DemandManager) Acquire(symbol string) error {
	d.mu.Lock()
	d.refs[symbol]++
	first := d.refs[symbol] == 1
	d.mu.Unlock()

	if first {
		return d.target.Subscribe(symbol)
	}
	return nil
}

// Release drops one reference. Releasing a symbol with no outstanding refs
// still issues the upstream unsubscribe, matching acquire-less cleanup paths.
func (d *DemandManager) Release(symbol string) error {
	d.mu.Lock()
	n := d.refs[symbol]
	last := n <= 1
	if last {
		delete(d.refs, symbol)
	} else {
		d.refs[symbol] = n - 1
	}
	d.mu.Unlock()

	if last {
		return d.target.Unsubscribe(symbol)
	}
	return nil
}

// Snapshot lists symbols with outstanding demand, for replay after reconnect.
func (d *DemandManager) Snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.refs))
	for symbol := range d.refs {
		out = append(out, symbol)
	}
	return out
}
