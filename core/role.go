package core

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/tolelom/tolmarket/crypto"
)

// Role is a 32-byte role identifier.
type Role [32]byte

// RoleReserver may place time-boxed reservations on listings.
var RoleReserver = NewRole("RESERVER_ROLE")

// NewRole derives a role identifier from its name.
func NewRole(name string) Role { return Role(crypto.Keccak256([]byte(name))) }

// Hex returns the 0x-prefixed hex form of r.
func (r Role) Hex() string { return "0x" + hex.EncodeToString(r[:]) }

func (r Role) String() string {
	if r == RoleReserver {
		return "RESERVER_ROLE"
	}
	return r.Hex()
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.Hex()), nil }

// UnmarshalText accepts either the hex identifier or the role name.
func (r *Role) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if !strings.HasPrefix(s, "0x") {
		*r = NewRole(s)
		return nil
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil {
		return fmt.Errorf("role %q: %w", s, err)
	}
	if len(raw) != len(r) {
		return fmt.Errorf("role %q: want %d bytes, got %d", s, len(r), len(raw))
	}
	copy(r[:], raw)
	return nil
}
