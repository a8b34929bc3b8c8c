package rbac

import (
	"strings"
	"testing"
)

func TestDefaultPolicy_Inheritance(t *testing.T) {
	p := DefaultPolicy()

	cases := []struct {
		role Role
		perm string
		want bool
	}{
		{RoleStudent, "notices:read", true},
		{RoleStudent, "notices:write", false},
		{RoleFaculty, "notices:read", true},
		{RoleFaculty, "grades:write", true},
		{RoleFaculty, "leave:approve", false},
		{RoleHOD, "leave:approve", true},
		{RoleHOD, "grades:write", true},
		{RoleHOD, "department:budget", true},
		{RoleAdmin, "anything:at-all", true},
		{Role("guest"), "notices:read", false},
	}
	for _, tc := range cases {
		if got := p.Can(tc.role, tc.perm); got != tc.want {
			t.Fatalf("Can(%s, %s): expected %v, got %v", tc.role, tc.perm, tc.want, got)
		}
	}
}

func TestPolicy_PermissionsSortedAndResolved(t *testing.T) {
	perms := DefaultPolicy().Permissions(RoleFaculty)

	joined := strings.Join(perms, ",")
	if !strings.Contains(joined, "portal:access") || !strings.Contains(joined, "grades:write") {
		t.Fatalf("expected inherited and own permissions, got %v", perms)
	}
	for i := 1; i < len(perms); i++ {
		if perms[i-1] > perms[i] {
			t.Fatalf("expected sorted permissions, got %v", perms)
		}
	}
}

func TestNewPolicy_RejectsCycleAndUnknownParent(t *testing.T) {
	_, err := NewPolicy(map[string]RoleConfig{
		"a": {Inherits: []string{"b"}},
		"b": {Inherits: []string{"a"}},
	})
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}

	_, err = NewPolicy(map[string]RoleConfig{"a": {Inherits: []string{"ghost"}}})
	if err == nil || !strings.Contains(err.Error(), "unknown role") {
		t.Fatalf("expected unknown role error, got %v", err)
	}
}
