// Package mapping implements the Mapping Registry (C3): resolving a
// (side, address) observation to the set of configured routes it should
// fan out to, with wildcard addressing via doublestar globs.
package mapping

import (
	"fmt"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/flyingrobots/protocol-bridge/internal/config"
	"github.com/flyingrobots/protocol-bridge/internal/message"
)

// Entry is a resolved, typed mapping configuration entry.
type Entry struct {
	ID                  string
	SourceSide          message.Side
	SourceAddress       string
	DestinationSide     message.Side
	DestinationAddress  string
	DataType            message.DataType
	Direction           message.Direction
	Priority            message.Priority
	Transform           string
	Description         string
	isGlob              bool
}

// Registry holds the loaded, validated mapping set and answers lookups by
// source address (with glob matching) and by mapping id.
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
	byID    map[string]*Entry
}

// Load builds a Registry from configuration entries already validated by
// config.Validate. Duplicate source addresses are allowed (warn-only, per
// config validation); all matching entries are returned on lookup.
func Load(raw []config.MappingEntry) (*Registry, error) {
	r := &Registry{byID: map[string]*Entry{}}
	for _, m := range raw {
		prio := message.PriorityNormal
		if m.Priority != "" {
			p, err := message.ParsePriority(m.Priority)
			if err != nil {
				return nil, fmt.Errorf("mapping %s: %w", m.ID, err)
			}
			prio = p
		}
		e := Entry{
			ID:                 m.ID,
			SourceSide:         message.Side(m.SourceSide),
			SourceAddress:      m.SourceAddress,
			DestinationSide:    message.Side(m.DestinationSide),
			DestinationAddress: m.DestinationAddress,
			DataType:           message.DataType(m.DataType),
			Direction:          message.Direction(m.Direction),
			Priority:           prio,
			Transform:          m.Transform,
			Description:        m.Description,
			isGlob:             doublestar.ValidatePattern(m.SourceAddress) && hasGlobMeta(m.SourceAddress),
		}
		r.entries = append(r.entries, e)
	}
	for i := range r.entries {
		r.byID[r.entries[i].ID] = &r.entries[i]
	}
	return r, nil
}

func hasGlobMeta(s string) bool {
	for _, c := range s {
		switch c {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

// Resolve returns every mapping whose source side matches sourceSide and
// whose source address matches addr (exact match, or doublestar glob when
// the configured address contains wildcard metacharacters), filtered by
// Direction.Allows for traffic originating on the A (source) side.
func (r *Registry) Resolve(sourceSide message.Side, addr string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for _, e := range r.entries {
		if e.SourceSide != sourceSide {
			continue
		}
		if !e.Direction.Allows(true) {
			continue
		}
		if e.isGlob {
			ok, err := doublestar.Match(e.SourceAddress, addr)
			if err != nil || !ok {
				continue
			}
		} else if e.SourceAddress != addr {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ResolveReverse mirrors Resolve for traffic observed on the configured
// destination side flowing back toward the source side (B->A / bidirectional).
func (r *Registry) ResolveReverse(destSide message.Side, addr string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for _, e := range r.entries {
		if e.DestinationSide != destSide {
			continue
		}
		if !e.Direction.Allows(false) {
			continue
		}
		if e.DestinationAddress != addr {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ByID returns the entry for a mapping id, or false if unknown.
func (r *Registry) ByID(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// All returns a copy of every loaded entry, used by the operator surface.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
