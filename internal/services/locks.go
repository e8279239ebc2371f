package services

import "sync"

// TenantLocks hands out one mutex per tenant. Entries are never evicted; the
// map grows with the number of distinct tenants seen by this process.
type TenantLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTenantLocks returns an empty lock table.
func NewTenantLocks() *TenantLocks {
	return &TenantLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the tenant's mutex and returns its unlock func.
func (t *TenantLocks) Lock(tenantID string) func() {
	t.mu.Lock()
	m, ok := t.locks[tenantID]
	if !ok {
		m = &sync.Mutex{}
		t.locks[tenantID] = m
	}
	t.mu.Unlock()
	m.Lock()
	return m.Unlock
}
