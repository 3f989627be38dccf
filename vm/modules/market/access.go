package market

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/tolmarket/core"
)

func loadParams(state core.State) (*core.Params, error) {
	p, err := state.Params()
	if err != nil {
		return nil, fmt.Errorf("read params: %w", err)
	}
	return p, nil
}

// requireNotPaused gates every user operation.
func requireNotPaused(state core.State) (*core.Params, error) {
	p, err := loadParams(state)
	if err != nil {
		return nil, err
	}
	if p.Paused {
		return nil, core.ErrContractPaused
	}
	return p, nil
}

func requireAdmin(state core.State, caller core.Address) (*core.Params, error) {
	p, err := loadParams(state)
	if err != nil {
		return nil, err
	}
	if caller != p.Administrator {
		return nil, core.ErrNotAdministrator
	}
	return p, nil
}

func requireRole(state core.State, role core.Role, caller core.Address, missing error) error {
	ok, err := state.HasRole(role, caller)
	if err != nil {
		return err
	}
	if !ok {
		return missing
	}
	return nil
}

func decode(payload json.RawMessage, v any, name string) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", name, err)
	}
	return nil
}
