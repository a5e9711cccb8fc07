package negotiation

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrRoleTie is returned when two nonces are identical and a new pair has
// to be exchanged.
var ErrRoleTie = errors.New("role tie-break failed: identical nonces")

// RoleAssigner produces the role of the local peer. Both sides of a pair
// must agree before either processes its first message.
type RoleAssigner interface {
	AssignRole() (Role, error)
}

// RoleAssignerFunc adapts a function to a RoleAssigner.
type RoleAssignerFunc func() (Role, error)

func (f RoleAssignerFunc) AssignRole() (Role, error) {
	return f()
}

// StaticRole always assigns the same role.
type StaticRole Role

func (r StaticRole) AssignRole() (Role, error) {
	return Role(r), nil
}

// NewNonce returns a random nonce for RoleFromNonces.
func NewNonce() uuid.UUID {
	return uuid.New()
}

// RoleFromNonces breaks the tie with exchanged random nonces: the peer with
// the greater nonce is impolite.
func RoleFromNonces(local, remote uuid.UUID) (Role, error) {
	switch bytes.Compare(local[:], remote[:]) {
	case 1:
		return RoleImpolite, nil
	case -1:
		return RolePolite, nil
	default:
		return RolePolite, ErrRoleTie
	}
}

// RoleFromJoinOrder assigns roles by order of channel join: the member with
// the lowest id joined first and is impolite, every other member is polite.
func RoleFromJoinOrder(local int, members []int) (Role, error) {
	found := false
	lowest := local
	for _, id := range members {
		if id == local {
			found = true
		}
		if id < lowest {
			lowest = id
		}
	}

	if !found {
		return RolePolite, fmt.Errorf("local id %d is not a member", local)
	}

	if lowest == local {
		return RoleImpolite, nil
	}

	return RolePolite, nil
}
