package models

import "time"

// Plan is the full set of work units for one submitted task, plus their
// dependency edges. The structure is fixed after construction: edges never
// change at runtime, only unit statuses do.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`
	// Task is the original task description the plan was built from.
	Task string `json:"task"`
	// Units are the work units in insertion order. Insertion order is the
	// tie-break when ready units share a priority.
	Units []*WorkUnit `json:"units"`
	// CreatedAt is when the plan was constructed.
	CreatedAt time.Time `json:"created_at"`
}

// UnitByID returns the unit with the given ID, or nil if absent.
func (p *Plan) UnitByID(id string) *WorkUnit {
	for _, u := range p.Units {
		if u.ID == id {
			return u
		}
	}
	return nil
}

// Terminal returns true once every unit has reached a terminal status.
func (p *Plan) Terminal() bool {
	for _, u := range p.Units {
		if !u.Status.Terminal() {
			return false
		}
	}
	return true
}

// StatusCounts returns the number of units in each status.
func (p *Plan) StatusCounts() map[UnitStatus]int {
	counts := make(map[UnitStatus]int, len(p.Units))
	for _, u := range p.Units {
		counts[u.Status]++
	}
	return counts
}
