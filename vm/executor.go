package vm

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
)

// ErrUnknownCall is returned for call types the current implementation does
// not handle.
var ErrUnknownCall = errors.New("unknown call type")

// Metrics receives per-call observations. metrics.Recorder implements it.
type Metrics interface {
	ObserveCall(typ core.CallType, result string, elapsed time.Duration)
	SetActiveListings(n uint64)
}

// Call results reported to Metrics.
const (
	ResultOK        = "ok"
	ResultFailed    = "failed"
	ResultPersisted = "persisted"
)

// Receipt describes a committed call.
type Receipt struct {
	CallID         string         `json:"call_id"`
	Type           core.CallType  `json:"type"`
	Implementation string         `json:"implementation"`
	Result         any            `json:"result,omitempty"`
	Events         []events.Event `json:"events"`
}

// Executor forwards calls to the implementation named by the persisted logic
// pointer. Calls are serialized; each one runs inside a state snapshot and is
// either committed as a whole or rolled back.
type Executor struct {
	mu       sync.RWMutex
	state    core.State
	emitter  *events.Emitter
	env      Env
	registry *Registry
	now      func() time.Time
	metrics  Metrics
}

// NewExecutor creates an Executor over state dispatching into the global
// registry.
func NewExecutor(state core.State, emitter *events.Emitter, env Env) *Executor {
	return &Executor{
		state:    state,
		emitter:  emitter,
		env:      env,
		registry: globalRegistry,
		now:      time.Now,
	}
}

// SetNowFunc overrides the clock used to stamp calls.
func (e *Executor) SetNowFunc(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	e.now = now
}

// SetRegistry replaces the implementation registry.
func (e *Executor) SetRegistry(r *Registry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry = r
}

// SetMetrics installs a metrics sink.
func (e *Executor) SetMetrics(m Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// Env returns the collaborators handed to handlers.
func (e *Executor) Env() Env { return e.env }

// Now returns the executor clock in unix seconds.
func (e *Executor) Now() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return unixSeconds(e.now())
}

// View runs fn against committed state under the shared lock. fn must not
// mutate state.
func (e *Executor) View(fn func(state core.State) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(e.state)
}

// Execute applies call atomically. Events are delivered to subscribers after
// commit and before Execute returns; subscribers must not call back into the
// Executor.
func (e *Executor) Execute(call *core.Call) (*Receipt, error) {
	if call == nil {
		return nil, errors.New("vm: nil call")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	rcpt, err := e.execute(call)
	result := ResultOK
	switch {
	case err != nil && rcpt != nil:
		result = ResultPersisted
	case err != nil:
		result = ResultFailed
	}
	if e.metrics != nil {
		e.metrics.ObserveCall(call.Type, result, time.Since(start))
		if n, cerr := e.state.ListingCount(); cerr == nil {
			e.metrics.SetActiveListings(n)
		}
	}
	if err != nil {
		log.WithFields(log.Fields{
			"call_id": call.ID,
			"type":    call.Type,
			"from":    call.From.Hex(),
		}).Debugf("vm: call failed: %v", err)
	}
	return rcpt, err
}

func (e *Executor) execute(call *core.Call) (*Receipt, error) {
	snapID, err := e.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	ctx := &Context{
		State: e.state,
		Call:  call,
		Env:   e.env,
		Now:   unixSeconds(e.now()),
	}
	implName, callErr := e.dispatch(ctx)

	if callErr != nil && !isPersist(callErr) {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return nil, fmt.Errorf("revert snapshot after call failure: %w (revert: %v)", callErr, revertErr)
		}
		return nil, callErr
	}

	if err := e.state.Commit(); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return nil, fmt.Errorf("commit: %w (revert: %v)", err, revertErr)
		}
		return nil, fmt.Errorf("commit: %w", err)
	}
	if e.emitter != nil {
		for _, ev := range ctx.events {
			e.emitter.Emit(ev)
		}
	}
	rcpt := &Receipt{
		CallID:         call.ID,
		Type:           call.Type,
		Implementation: implName,
		Result:         ctx.result,
		Events:         ctx.events,
	}
	var pe *persistError
	if errors.As(callErr, &pe) {
		return rcpt, pe.err
	}
	return rcpt, nil
}

// dispatch resolves the current implementation and runs the call's handler.
func (e *Executor) dispatch(ctx *Context) (string, error) {
	if ctx.Call.Type == core.CallUpgrade {
		name, err := e.upgrade(ctx)
		return name, err
	}

	name, err := e.state.Implementation()
	if err != nil {
		return "", fmt.Errorf("read logic pointer: %w", err)
	}
	impl, ok := e.registry.Lookup(name)
	if !ok {
		return name, fmt.Errorf("%w: %q", core.ErrUnknownImplementation, name)
	}
	h, ok := impl.Handlers[ctx.Call.Type]
	if !ok {
		return name, fmt.Errorf("%w: %q", ErrUnknownCall, ctx.Call.Type)
	}
	return name, h(ctx, ctx.Call.Payload)
}

// upgrade swaps the logic pointer. Only the parameters' administrator may
// call it, and the target must understand the persisted storage layout.
func (e *Executor) upgrade(ctx *Context) (string, error) {
	var p core.UpgradePayload
	if err := json.Unmarshal(ctx.Call.Payload, &p); err != nil {
		return "", fmt.Errorf("decode upgrade payload: %w", err)
	}
	params, err := ctx.State.Params()
	if err != nil {
		return "", fmt.Errorf("read params: %w", err)
	}
	if ctx.Call.From != params.Administrator {
		return "", core.ErrNotAdministrator
	}
	impl, ok := e.registry.Lookup(p.Implementation)
	if !ok {
		return "", fmt.Errorf("%w: %q", core.ErrUnknownImplementation, p.Implementation)
	}
	schema, err := ctx.State.SchemaVersion()
	if err != nil {
		return "", fmt.Errorf("read schema version: %w", err)
	}
	if impl.Schema < schema {
		return "", fmt.Errorf("%w: %s speaks %d, state is %d",
			core.ErrSchemaDowngrade, impl.Name, impl.Schema, schema)
	}
	previous, err := ctx.State.Implementation()
	if err != nil {
		return "", fmt.Errorf("read logic pointer: %w", err)
	}

	if impl.Migrate != nil {
		if err := impl.Migrate(ctx.State); err != nil {
			return "", fmt.Errorf("migrate to %s: %w", impl.Name, err)
		}
	}
	if impl.Schema > schema {
		if err := ctx.State.SetSchemaVersion(impl.Schema); err != nil {
			return "", err
		}
	}
	if err := ctx.State.SetImplementation(impl.Name); err != nil {
		return "", err
	}

	log.WithFields(log.Fields{"previous": previous, "implementation": impl.Name}).
		Info("vm: logic upgraded")
	ctx.Emit(events.EventUpgraded, map[string]any{
		"previous":       previous,
		"implementation": impl.Name,
		"schema":         impl.Schema,
	})
	return impl.Name, nil
}

// Install points a fresh store at implementation name and records its schema.
// It does not commit.
func Install(state core.State, name string) error {
	impl, ok := Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", core.ErrUnknownImplementation, name)
	}
	if err := state.SetImplementation(impl.Name); err != nil {
		return err
	}
	return state.SetSchemaVersion(impl.Schema)
}

func unixSeconds(t time.Time) uint64 {
	if s := t.Unix(); s > 0 {
		return uint64(s)
	}
	return 0
}
