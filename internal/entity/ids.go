package entity

import "math"

// IDAllocator hands out monotonically increasing object ids. Scene content
// reserves low ids up front; Observe keeps the counter above every id ever
// seen so allocated ids never collide with them.
type IDAllocator struct {
	highest ObjectID

	// range handed out by Next since the last Reset
	firstIssued ObjectID
	lastIssued  ObjectID
}

// Next returns the next unused id.
func (a *IDAllocator) Next() (ObjectID, error) {
	if a.highest == math.MaxUint32 {
		return 0, ErrIDExhausted
	}
	a.highest++
	if a.firstIssued == 0 {
		a.firstIssued = a.highest
	}
	a.lastIssued = a.highest
	return a.highest, nil
}

// Observe raises the counter to at least id.
func (a *IDAllocator) Observe(id ObjectID) {
	if id > a.highest {
		a.highest = id
	}
}

// Highest returns the largest id allocated or observed.
func (a *IDAllocator) Highest() ObjectID { return a.highest }

// Issued reports whether id falls inside the range Next has handed out.
// Reserved scene ids must stay outside it.
func (a *IDAllocator) Issued(id ObjectID) bool {
	return a.firstIssued != 0 && id >= a.firstIssued && id <= a.lastIssued
}

// Reset forgets every id. Only valid when no entity is alive, e.g. on a
// client returning to its offline state.
func (a *IDAllocator) Reset() { *a = IDAllocator{} }
