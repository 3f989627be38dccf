package config

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/vm"
)

// InitGenesis seeds a fresh store from cfg and commits it. A store that
// already carries a schema version is left untouched; the return value
// reports whether seeding happened. The implementation named in the genesis
// must be registered, so callers import its package first.
func InitGenesis(cfg *Config, state core.State) (bool, error) {
	schema, err := state.SchemaVersion()
	if err != nil {
		return false, err
	}
	if schema != 0 {
		return false, nil
	}

	params, err := cfg.Genesis.Params()
	if err != nil {
		return false, err
	}
	units, err := parseAddresses("genesis.payment_units", cfg.Genesis.PaymentUnits)
	if err != nil {
		return false, err
	}
	reservers, err := parseAddresses("genesis.reservers", cfg.Genesis.Reservers)
	if err != nil {
		return false, err
	}

	if err := state.SetParams(params); err != nil {
		return false, err
	}
	for _, u := range units {
		if err := state.AddPaymentUnit(u); err != nil {
			return false, err
		}
	}
	for _, r := range reservers {
		if err := state.SetRole(core.RoleReserver, r, true); err != nil {
			return false, err
		}
	}
	if err := vm.Install(state, cfg.Genesis.Implementation); err != nil {
		return false, fmt.Errorf("genesis: %w", err)
	}
	root := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return false, err
	}
	log.WithFields(log.Fields{
		"administrator":  params.Administrator.Hex(),
		"implementation": cfg.Genesis.Implementation,
		"state_root":     root,
	}).Info("genesis state written")
	return true, nil
}
