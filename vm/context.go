package vm

import (
	"errors"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
)

// Env holds the external collaborators shared by every call.
type Env struct {
	Assets   core.AssetOracle
	Payments core.PaymentOracle
	// Market is the account the engine acts as: the approved operator for
	// listed assets and the vault holding escrowed payments.
	Market core.Address
}

// Context is passed to every Handler and provides access to the state, the
// triggering call, the external oracles and the current time.
type Context struct {
	State core.State
	Call  *core.Call
	Env   Env
	// Now is the call's timestamp in unix seconds.
	Now uint64

	events []events.Event
	result any
}

// Emit buffers an event. Buffered events are delivered only if the call
// commits.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	c.events = append(c.events, events.Event{Type: typ, CallID: c.Call.ID, Data: data})
}

// SetResult records the value returned to the caller in the Receipt.
func (c *Context) SetResult(v any) { c.result = v }

type persistError struct{ err error }

func (e *persistError) Error() string { return e.err.Error() }
func (e *persistError) Unwrap() error { return e.err }

func isPersist(err error) bool {
	var pe *persistError
	return errors.As(err, &pe)
}

// Persist marks err as a failure whose state changes must still be committed.
// The executor commits, delivers the buffered events and returns err.
func Persist(err error) error {
	if err == nil {
		return nil
	}
	return &persistError{err: err}
}
