package vm_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/internal/testutil"
	"github.com/tolelom/tolmarket/storage"
	"github.com/tolelom/tolmarket/vm"
)

var (
	admin = core.HexToAddress("0x00000000000000000000000000000000000000a1")
	alice = core.HexToAddress("0x00000000000000000000000000000000000000b1")
	bob   = core.HexToAddress("0x00000000000000000000000000000000000000b2")
	unit  = core.HexToAddress("0x00000000000000000000000000000000000000c1")
)

const callCredit core.CallType = "credit"

var errBoom = errors.New("boom")

// creditHandler credits the caller and then fails according to the payload.
func creditHandler(ctx *vm.Context, payload json.RawMessage) error {
	var p struct {
		Fail    bool `json:"fail"`
		Persist bool `json:"persist"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if err := ctx.State.SetBalance(unit, ctx.Call.From, uint256.NewInt(ctx.Now)); err != nil {
		return err
	}
	ctx.Emit(events.EventFundsWithdrawn, map[string]any{"account": ctx.Call.From})
	ctx.SetResult("credited")
	switch {
	case p.Persist:
		return vm.Persist(errBoom)
	case p.Fail:
		return errBoom
	}
	return nil
}

type fixture struct {
	db       *testutil.MemDB
	state    *storage.StateDB
	exec     *vm.Executor
	emitter  *events.Emitter
	received []events.Event
	migrated int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{db: testutil.NewMemDB(), emitter: events.NewEmitter()}
	f.state = storage.NewStateDB(f.db)
	f.emitter.SubscribeAll(func(ev events.Event) { f.received = append(f.received, ev) })

	reg := vm.NewRegistry()
	reg.Register(&vm.Implementation{
		Name:     "test/v1",
		Schema:   1,
		Handlers: map[core.CallType]vm.Handler{callCredit: creditHandler},
	})
	reg.Register(&vm.Implementation{
		Name:     "test/v2",
		Schema:   2,
		Handlers: map[core.CallType]vm.Handler{callCredit: creditHandler},
		Migrate: func(core.State) error {
			f.migrated++
			return nil
		},
	})

	require.NoError(t, f.state.SetParams(&core.Params{
		Administrator:  admin,
		ProtocolWallet: admin,
		FeeNumerator:   uint256.NewInt(25),
		FeeDenominator: uint256.NewInt(1000),
	}))
	require.NoError(t, f.state.SetImplementation("test/v1"))
	require.NoError(t, f.state.SetSchemaVersion(1))
	require.NoError(t, f.state.Commit())

	f.exec = vm.NewExecutor(f.state, f.emitter, vm.Env{})
	f.exec.SetRegistry(reg)
	f.exec.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return f
}

func newCall(t *testing.T, typ core.CallType, from core.Address, payload any) *core.Call {
	t.Helper()
	c, err := core.NewCall(typ, from, payload)
	require.NoError(t, err)
	return c
}

func TestExecuteCommitsAndDelivers(t *testing.T) {
	f := newFixture(t)

	rcpt, err := f.exec.Execute(newCall(t, callCredit, alice, map[string]bool{}))
	require.NoError(t, err)
	require.Equal(t, "test/v1", rcpt.Implementation)
	require.Equal(t, "credited", rcpt.Result)
	require.Len(t, rcpt.Events, 1)
	require.Len(t, f.received, 1)
	require.Equal(t, rcpt.CallID, f.received[0].CallID)

	bal, err := f.state.Balance(unit, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(1_700_000_000), bal.Uint64())
}

func TestExecuteRevertsOnError(t *testing.T) {
	f := newFixture(t)
	before := f.state.ComputeRoot()

	rcpt, err := f.exec.Execute(newCall(t, callCredit, alice, map[string]bool{"fail": true}))
	require.ErrorIs(t, err, errBoom)
	require.Nil(t, rcpt)
	require.Empty(t, f.received)
	require.Equal(t, before, f.state.ComputeRoot())

	bal, err := f.state.Balance(unit, alice)
	require.NoError(t, err)
	require.True(t, bal.IsZero())
}

func TestExecutePersistCommitsAndReturnsError(t *testing.T) {
	f := newFixture(t)

	rcpt, err := f.exec.Execute(newCall(t, callCredit, alice, map[string]bool{"persist": true}))
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, errBoom, err)
	require.NotNil(t, rcpt)
	require.Len(t, f.received, 1)

	bal, err := f.state.Balance(unit, alice)
	require.NoError(t, err)
	require.False(t, bal.IsZero())
}

func TestExecuteRevertsOnCommitFailure(t *testing.T) {
	f := newFixture(t)
	before := f.state.ComputeRoot()

	f.db.FailWrites(1)
	rcpt, err := f.exec.Execute(newCall(t, callCredit, alice, map[string]bool{}))
	require.ErrorIs(t, err, testutil.ErrWriteFailed)
	require.Nil(t, rcpt)
	require.Empty(t, f.received)
	require.Equal(t, before, f.state.ComputeRoot())

	balanceOf := func(account core.Address) *uint256.Int {
		var bal *uint256.Int
		require.NoError(t, f.exec.View(func(s core.State) error {
			var err error
			bal, err = s.Balance(unit, account)
			return err
		}))
		return bal
	}
	require.True(t, balanceOf(alice).IsZero())

	// The next commit must not carry the failed call's writes.
	_, err = f.exec.Execute(newCall(t, callCredit, bob, map[string]bool{}))
	require.NoError(t, err)
	require.False(t, balanceOf(bob).IsZero())
	require.True(t, balanceOf(alice).IsZero())

	reopened := storage.NewStateDB(f.db)
	bal, err := reopened.Balance(unit, alice)
	require.NoError(t, err)
	require.True(t, bal.IsZero())
}

func TestExecuteUnknownCall(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec.Execute(newCall(t, core.CallBuy, alice, nil))
	require.ErrorIs(t, err, vm.ErrUnknownCall)
}

func TestUpgrade(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec.Execute(newCall(t, callCredit, alice, map[string]bool{}))
	require.NoError(t, err)
	dataRoot := f.state.DataRoot()
	f.received = nil

	_, err = f.exec.Execute(newCall(t, core.CallUpgrade, alice, core.UpgradePayload{Implementation: "test/v2"}))
	require.ErrorIs(t, err, core.ErrNotAdministrator)

	_, err = f.exec.Execute(newCall(t, core.CallUpgrade, admin, core.UpgradePayload{Implementation: "test/v9"}))
	require.ErrorIs(t, err, core.ErrUnknownImplementation)

	rcpt, err := f.exec.Execute(newCall(t, core.CallUpgrade, admin, core.UpgradePayload{Implementation: "test/v2"}))
	require.NoError(t, err)
	require.Equal(t, "test/v2", rcpt.Implementation)
	require.Equal(t, 1, f.migrated)
	require.Len(t, f.received, 1)
	require.Equal(t, events.EventUpgraded, f.received[0].Type)
	require.Equal(t, "test/v1", f.received[0].Data["previous"])

	name, err := f.state.Implementation()
	require.NoError(t, err)
	require.Equal(t, "test/v2", name)
	schema, err := f.state.SchemaVersion()
	require.NoError(t, err)
	require.Equal(t, uint64(2), schema)
	require.Equal(t, dataRoot, f.state.DataRoot())

	// Going back would misread records written under schema 2.
	_, err = f.exec.Execute(newCall(t, core.CallUpgrade, admin, core.UpgradePayload{Implementation: "test/v1"}))
	require.ErrorIs(t, err, core.ErrSchemaDowngrade)

	rcpt, err = f.exec.Execute(newCall(t, callCredit, alice, map[string]bool{}))
	require.NoError(t, err)
	require.Equal(t, "test/v2", rcpt.Implementation)
}

func TestViewSeesCommittedState(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec.Execute(newCall(t, callCredit, alice, map[string]bool{}))
	require.NoError(t, err)

	err = f.exec.View(func(s core.State) error {
		bal, err := s.Balance(unit, alice)
		require.NoError(t, err)
		require.Equal(t, uint64(1_700_000_000), bal.Uint64())
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1_700_000_000), f.exec.Now())
}
