// Package units holds the static table of monitored GCU units.
package units

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Info describes a single configured unit.
type Info struct {
	ID    uint8  `json:"id"`
	Label string `json:"label"`
}

// Registry maps unit ids to display labels.
type Registry struct {
	units []Info
	index map[uint8]Info
}

// DefaultLabels is the label table used when none is configured.
func DefaultLabels() map[uint8]string {
	return map[uint8]string{
		1: "GCU 1 (Izquierda)",
		2: "GCU 2 (Derecha)",
	}
}

// NewRegistry builds a registry sorted by unit id.
func NewRegistry(labels map[uint8]string) *Registry {
	reg := &Registry{
		units: make([]Info, 0, len(labels)),
		index: make(map[uint8]Info, len(labels)),
	}
	for id, label := range labels {
		info := Info{ID: id, Label: label}
		reg.units = append(reg.units, info)
		reg.index[id] = info
	}
	sort.Slice(reg.units, func(i, j int) bool { return reg.units[i].ID < reg.units[j].ID })
	return reg
}

// Label returns the display label for id, with a fallback for unknown units.
func (r *Registry) Label(id uint8) string {
	if r != nil {
		if info, ok := r.index[id]; ok {
			return info.Label
		}
	}
	return fmt.Sprintf("Unknown GCU (%d)", id)
}

// Known reports whether id is configured.
func (r *Registry) Known(id uint8) bool {
	if r == nil {
		return false
	}
	_, ok := r.index[id]
	return ok
}

// List returns the configured units ordered by id.
func (r *Registry) List() []Info {
	if r == nil {
		return nil
	}
	out := make([]Info, len(r.units))
	copy(out, r.units)
	return out
}

// ParseLabels parses "1=Left,2=Right" into a label table.
func ParseLabels(input string) (map[uint8]string, error) {
	out := make(map[uint8]string)
	for _, item := range strings.Split(input, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		rawID, label, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("unit label %q: expected id=label", item)
		}
		id, err := ParseID(rawID)
		if err != nil {
			return nil, fmt.Errorf("unit label %q: %w", item, err)
		}
		label = strings.TrimSpace(label)
		if label == "" {
			return nil, fmt.Errorf("unit label %q: empty label", item)
		}
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("unit label %q: duplicate id %d", item, id)
		}
		out[id] = label
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no unit labels provided")
	}
	return out, nil
}

// ParseID parses a unit id as carried on the wire (1..255).
func ParseID(raw string) (uint8, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("parse unit id %q: %w", raw, err)
	}
	if value == 0 {
		return 0, fmt.Errorf("unit id must be > 0")
	}
	return uint8(value), nil
}
