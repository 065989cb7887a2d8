package registry

import (
	"errors"
	"strings"
	"sync"
)

var (
	ErrEmptyTarget     = errors.New("target must not be empty")
	ErrDuplicateTarget = errors.New("target already monitored")
	ErrUnknownTarget   = errors.New("target is not monitored")
	ErrLastTarget      = errors.New("cannot remove the last target")
)

// Registry is the ordered, duplicate-free set of monitored targets. It is
// never empty and its primary is always a member.
type Registry struct {
	mu      sync.RWMutex
	targets []string
	primary string
}

// New builds a registry from targets. Blank and repeated entries are
// dropped. An unknown or empty primary falls back to the first target.
func New(targets []string, primary string) (*Registry, error) {
	r := &Registry{}
	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		r.targets = append(r.targets, t)
	}
	if len(r.targets) == 0 {
		return nil, ErrEmptyTarget
	}

	r.primary = r.targets[0]
	if _, ok := seen[strings.TrimSpace(primary)]; ok {
		r.primary = strings.TrimSpace(primary)
	}
	return r, nil
}

func (r *Registry) Add(target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return ErrEmptyTarget
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexOf(target) >= 0 {
		return ErrDuplicateTarget
	}
	r.targets = append(r.targets, target)
	return nil
}

// Remove deletes target. Removing the primary reassigns it to the first
// remaining target.
func (r *Registry) Remove(target string) error {
	target = strings.TrimSpace(target)

	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexOf(target)
	if idx < 0 {
		return ErrUnknownTarget
	}
	if len(r.targets) == 1 {
		return ErrLastTarget
	}

	r.targets = append(r.targets[:idx:idx], r.targets[idx+1:]...)
	if r.primary == target {
		r.primary = r.targets[0]
	}
	return nil
}

func (r *Registry) SetPrimary(target string) error {
	target = strings.TrimSpace(target)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexOf(target) < 0 {
		return ErrUnknownTarget
	}
	r.primary = target
	return nil
}

func (r *Registry) Primary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.primary
}

func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.targets...)
}

func (r *Registry) Contains(target string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.indexOf(target) >= 0
}

// Snapshot returns a copy of the targets together with the primary, taken
// under one lock so the two are consistent.
func (r *Registry) Snapshot() ([]string, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.targets...), r.primary
}

func (r *Registry) indexOf(target string) int {
	for i, t := range r.targets {
		if t == target {
			return i
		}
	}
	return -1
}
