package sandbox

import (
	"sort"
	"strings"
	"sync"
)

// PauseSet is an in-memory module pause switch board.
type PauseSet struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauseSet returns a set with nothing paused.
func NewPauseSet() *PauseSet {
	return &PauseSet{paused: make(map[string]bool)}
}

// IsPaused implements common.PauseView.
func (p *PauseSet) IsPaused(module string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[strings.ToLower(strings.TrimSpace(module))]
}

// Set pauses or resumes module.
func (p *PauseSet) Set(module string, paused bool) {
	key := strings.ToLower(strings.TrimSpace(module))
	if key == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if paused {
		p.paused[key] = true
		return
	}
	delete(p.paused, key)
}

// Paused lists the paused modules in name order.
func (p *PauseSet) Paused() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.paused))
	for module := range p.paused {
		out = append(out, module)
	}
	sort.Strings(out)
	return out
}
