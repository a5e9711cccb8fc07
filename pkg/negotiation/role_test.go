package negotiation_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/stv0g/pion-perfect-negotation/pkg/negotiation"
)

func TestRoleFromNonces(t *testing.T) {
	for i := 0; i < 100; i++ {
		a, b := negotiation.NewNonce(), negotiation.NewNonce()

		ra, errA := negotiation.RoleFromNonces(a, b)
		rb, errB := negotiation.RoleFromNonces(b, a)
		if errA != nil || errB != nil {
			t.Fatalf("Unexpected tie for %s and %s", a, b)
		}
		if ra == rb {
			t.Fatalf("Both peers got role %s", ra)
		}
	}
}

func TestRoleFromNoncesTie(t *testing.T) {
	n := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	if _, err := negotiation.RoleFromNonces(n, n); !errors.Is(err, negotiation.ErrRoleTie) {
		t.Errorf("Error = %v, want ErrRoleTie", err)
	}
}

func TestRoleFromJoinOrder(t *testing.T) {
	testCases := []struct {
		name    string
		local   int
		members []int
		want    negotiation.Role
		wantErr bool
	}{
		{"first member", 3, []int{3, 7}, negotiation.RoleImpolite, false},
		{"second member", 7, []int{3, 7}, negotiation.RolePolite, false},
		{"unordered members", 2, []int{9, 2, 5}, negotiation.RoleImpolite, false},
		{"not a member", 4, []int{3, 7}, negotiation.RolePolite, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := negotiation.RoleFromJoinOrder(tc.local, tc.members)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Error = %v, wantErr %v", err, tc.wantErr)
			}
			if !tc.wantErr && got != tc.want {
				t.Errorf("Role = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestStaticRole(t *testing.T) {
	var assigner negotiation.RoleAssigner = negotiation.StaticRole(negotiation.RoleImpolite)

	role, err := assigner.AssignRole()
	if err != nil || role != negotiation.RoleImpolite {
		t.Errorf("AssignRole = %s/%v", role, err)
	}
}
