package turn

import "sync"

// Scheduler serializes pipeline work per tenant.
//
// Each tenant's pipeline runs as an independent sequential unit of work:
// tenants progress fully in parallel with each other, but within one tenant
// at most one operation holds the slot at a time, which keeps exactly one
// batch outside idle per tenant.
type Scheduler struct {
	mu      sync.Mutex
	tenants map[string]*sync.Mutex
}

// NewScheduler returns an empty per-tenant scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{tenants: map[string]*sync.Mutex{}}
}

// Acquire blocks until the tenant's slot is free and returns its release
// function. Callers must release exactly once, typically via defer.
func (s *Scheduler) Acquire(tenant string) func() {
	s.mu.Lock()
	lock, ok := s.tenants[tenant]
	if !ok {
		lock = &sync.Mutex{}
		s.tenants[tenant] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
