package market

import (
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/storage"
	"github.com/tolelom/tolmarket/vm"
)

// Implementation names.
const (
	V1 = "market/v1"
	V2 = "market/v2"
)

// logic is one marketplace implementation. Handlers are built from it so the
// approval policy and record stamping travel with the implementation.
type logic struct {
	name   string
	schema uint64
	// tokenApproval accepts a per-asset approval in addition to an
	// operator-wide one.
	tokenApproval bool
	stampListedAt bool
}

var logics = map[string]*logic{
	V1: {name: V1, schema: storage.SchemaV1},
	V2: {name: V2, schema: storage.SchemaV2, tokenApproval: true, stampListedAt: true},
}

func init() {
	vm.Register(logics[V1].implementation())
	vm.Register(logics[V2].implementation())
}

func (lg *logic) implementation() *vm.Implementation {
	return &vm.Implementation{
		Name:   lg.name,
		Schema: lg.schema,
		Handlers: map[core.CallType]vm.Handler{
			core.CallList:                 lg.handleList,
			core.CallUnlist:               lg.handleUnlist,
			core.CallUnlistStale:          lg.handleUnlistStale,
			core.CallBuy:                  lg.handleBuy,
			core.CallReserve:              lg.handleReserve,
			core.CallUpdateRoyalty:        lg.handleUpdateRoyalty,
			core.CallRefreshRoyalty:       lg.handleRefreshRoyalty,
			core.CallWithdraw:             lg.handleWithdraw,
			core.CallAddPaymentUnit:       handleAddPaymentUnit,
			core.CallChangeProtocolWallet: handleChangeProtocolWallet,
			core.CallChangeProtocolFee:    handleChangeProtocolFee,
			core.CallPause:                handlePause,
			core.CallUnpause:              handleUnpause,
			core.CallGrantRole:            handleGrantRole,
			core.CallRevokeRole:           handleRevokeRole,
			core.CallTransferAdmin:        handleTransferAdmin,
		},
	}
}

// currentLogic returns the implementation the logic pointer names, falling
// back to V1 for stores that carry no pointer.
func currentLogic(state core.State) (*logic, error) {
	name, err := state.Implementation()
	if err != nil {
		return nil, err
	}
	if lg, ok := logics[name]; ok {
		return lg, nil
	}
	if name == "" {
		return logics[V1], nil
	}
	return nil, core.ErrUnknownImplementation
}
