package db

import (
	"sync"
)

// TxToken is the right to begin, commit and roll back transactions on a
// connection. At most one owner, typically a bizobj, holds it at a time.
//
// TxToken does no I/O. A caller that fails to acquire the token proceeds
// without transaction control, as part of the owner's transaction.
type TxToken struct {
	sync.Mutex
	owner any
}

// Acquire makes owner the holder of the token if it is free, returning
// whether it did. If the token is held, also by owner itself, false is
// returned: only the first acquirer begins and ends the transaction.
func (t *TxToken) Acquire(owner any) bool {
	t.Lock()
	defer t.Unlock()
	if owner == nil || t.owner != nil {
		return false
	}
	t.owner = owner
	return true
}

// Holds returns whether owner holds the token.
func (t *TxToken) Holds(owner any) bool {
	t.Lock()
	defer t.Unlock()
	return owner != nil && t.owner == owner
}

// Release frees the token if owner holds it, returning whether it did.
func (t *TxToken) Release(owner any) bool {
	t.Lock()
	defer t.Unlock()
	if owner == nil || t.owner != owner {
		return false
	}
	t.owner = nil
	return true
}

// Owner returns the current holder of the token, or nil.
func (t *TxToken) Owner() any {
	t.Lock()
	defer t.Unlock()
	return t.owner
}
