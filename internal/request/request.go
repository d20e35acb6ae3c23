// Package request implements the reversible pending-action engine. A
// request is a staged economic operation that a user must explicitly
// confirm; a confirmed request can be undone, a pending one canceled.
// Every user has at most one live request at a time.
package request

import (
	"context"
	"errors"
	"sync"

	"github.com/disgoorg/snowflake/v2"
)

// Common errors for request operations.
var (
	ErrNoPendingRequest  = errors.New("no pending request")
	ErrNotUndoable       = errors.New("request cannot be undone")
	ErrItemNotFound      = errors.New("item not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// State is the lifecycle state of a request.
type State int

// Request lifecycle: PENDING -> COMPLETED -> REVERTED, or PENDING -> CANCELED.
const (
	StatePending State = iota
	StateCompleted
	StateCanceled
	StateReverted
)

// Request is one staged reversible operation. Implementations perform the
// actual store mutation in Confirm and reverse it in Undo, and flip their
// state only when the mutation succeeded: a failed precondition leaves the
// request addressable in its prior state.
type Request interface {
	// Requester returns the id of the user the request belongs to.
	Requester() snowflake.ID

	// State returns the current lifecycle state.
	State() State

	// Confirm applies the staged mutation and returns a reply for the user.
	Confirm(ctx context.Context) (string, error)

	// Cancel abandons the request without mutating state and returns a
	// reply for the user.
	Cancel(ctx context.Context) (string, error)

	// Undo reverses a previously confirmed mutation and returns a reply
	// for the user.
	Undo(ctx context.Context) (string, error)
}

// Auditor receives ledger entries for confirmed and undone requests.
// Satisfied by repository.LedgerRepository.
type Auditor interface {
	Record(ctx context.Context, userID snowflake.ID, amount int64, entryType string, description string)
}

// Manager is the per-user request registry. Creating a request silently
// replaces any live request the user already had; that is deliberate
// policy, not an accident.
type Manager struct {
	mu      sync.Mutex
	pending map[snowflake.ID]Request
}

// NewManager creates an empty request registry.
func NewManager() *Manager {
	return &Manager{pending: make(map[snowflake.ID]Request)}
}

// Create stores req as its requester's live request, unconditionally
// overwriting any existing one.
func (m *Manager) Create(req Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[req.Requester()] = req
}

// Confirm applies the user's pending request. The entry stays registered
// afterwards so the operation can be undone. A precondition failure inside
// the request leaves it pending and is returned as a domain error.
func (m *Manager) Confirm(ctx context.Context, userID snowflake.ID) (string, error) {
	req, err := m.lookup(userID, StatePending)
	if err != nil {
		return "", err
	}
	return req.Confirm(ctx)
}

// Cancel abandons the user's pending request and removes it; a canceled
// request can never be confirmed or undone later.
func (m *Manager) Cancel(ctx context.Context, userID snowflake.ID) (string, error) {
	req, err := m.lookup(userID, StatePending)
	if err != nil {
		return "", err
	}

	msg, err := req.Cancel(ctx)
	if err != nil {
		return "", err
	}

	m.remove(userID, req)
	return msg, nil
}

// Undo reverses the user's confirmed request. Fails with
// ErrNoPendingRequest when the user has no registered request at all and
// with ErrNotUndoable when the registered one was never confirmed. A
// successful undo is terminal and removes the entry.
func (m *Manager) Undo(ctx context.Context, userID snowflake.ID) (string, error) {
	m.mu.Lock()
	req, ok := m.pending[userID]
	m.mu.Unlock()

	if !ok {
		return "", ErrNoPendingRequest
	}
	if req.State() != StateCompleted {
		return "", ErrNotUndoable
	}

	msg, err := req.Undo(ctx)
	if err != nil {
		return "", err
	}

	m.remove(userID, req)
	return msg, nil
}

// lookup returns the user's registered request if it is in the wanted
// state. A registered request in any other state reads as "nothing
// pending" to the caller.
func (m *Manager) lookup(userID snowflake.ID, want State) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.pending[userID]
	if !ok || req.State() != want {
		return nil, ErrNoPendingRequest
	}
	return req, nil
}

// remove drops the entry, but only if it still is the same request; the
// user may have created a new one concurrently.
func (m *Manager) remove(userID snowflake.ID, req Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending[userID] == req {
		delete(m.pending, userID)
	}
}
