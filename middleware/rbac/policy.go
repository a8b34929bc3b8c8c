package rbac

import (
	"fmt"
	"sort"
	"strings"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleHOD     Role = "hod"
	RoleFaculty Role = "faculty"
	RoleStudent Role = "student"
)

// RoleConfig descreve um papel vindo da configuração.
type RoleConfig struct {
	Permissions []string `yaml:"permissions"`
	Inherits    []string `yaml:"inherits"`
}

// Policy é imutável depois de criada; seguro para uso concorrente.
type Policy struct {
	resolved map[Role]map[string]struct{}
}

// DefaultRoles é a matriz padrão de papéis da faculdade.
func DefaultRoles() map[string]RoleConfig {
	return map[string]RoleConfig{
		string(RoleStudent): {
			Permissions: []string{
				"portal:access",
				"notices:read",
				"attendance:read",
				"grades:read",
				"leave:apply",
				"timetable:read",
			},
		},
		string(RoleFaculty): {
			Permissions: []string{
				"attendance:write",
				"grades:write",
				"students:read",
			},
			Inherits: []string{string(RoleStudent)},
		},
		string(RoleHOD): {
			Permissions: []string{
				"notices:write",
				"leave:approve",
				"faculty:read",
				"department:*",
			},
			Inherits: []string{string(RoleFaculty)},
		},
		string(RoleAdmin): {
			Permissions: []string{"*"},
		},
	}
}

// DefaultPolicy monta a Policy com DefaultRoles.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(DefaultRoles())
	if err != nil {
		panic(err)
	}
	return p
}

// NewPolicy resolve a herança de cada papel. Herança desconhecida ou cíclica é erro.
func NewPolicy(roles map[string]RoleConfig) (*Policy, error) {
	p := &Policy{resolved: make(map[Role]map[string]struct{}, len(roles))}
	for name := range roles {
		set := make(map[string]struct{})
		if err := collect(roles, name, set, map[string]bool{}); err != nil {
			return nil, err
		}
		p.resolved[Role(name)] = set
	}
	return p, nil
}

func collect(roles map[string]RoleConfig, name string, into map[string]struct{}, visiting map[string]bool) error {
	rc, ok := roles[name]
	if !ok {
		return fmt.Errorf("rbac: unknown role %q", name)
	}
	if visiting[name] {
		return fmt.Errorf("rbac: inheritance cycle at role %q", name)
	}
	visiting[name] = true
	defer delete(visiting, name)

	for _, perm := range rc.Permissions {
		perm = strings.TrimSpace(perm)
		if perm != "" {
			into[perm] = struct{}{}
		}
	}
	for _, parent := range rc.Inherits {
		if err := collect(roles, parent, into, visiting); err != nil {
			return err
		}
	}
	return nil
}

// Can indica se o papel concede a permissão.
func (p *Policy) Can(role Role, perm string) bool {
	set, ok := p.resolved[role]
	if !ok {
		return false
	}
	if _, ok := set["*"]; ok {
		return true
	}
	if _, ok := set[perm]; ok {
		return true
	}
	if i := strings.IndexByte(perm, ':'); i > 0 {
		if _, ok := set[perm[:i]+":*"]; ok {
			return true
		}
	}
	return false
}

// Permissions devolve as permissões efetivas do papel, ordenadas.
func (p *Policy) Permissions(role Role) []string {
	set := p.resolved[role]
	out := make([]string, 0, len(set))
	for perm := range set {
		out = append(out, perm)
	}
	sort.Strings(out)
	return out
}

// Known indica se o papel existe na Policy.
func (p *Policy) Known(role Role) bool {
	_, ok := p.resolved[role]
	return ok
}
