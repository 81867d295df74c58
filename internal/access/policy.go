// Package access decides which chat users may run privileged commands.
package access

import "strings"

// Permission names an action that needs a role.
type Permission string

// Role is a named set of permissions.
type Role string

const (
	PermClearScores Permission = "clear_scores"

	RoleAdmin Role = "admin"
)

var rolePermissions = map[Role][]Permission{
	RoleAdmin: {PermClearScores},
}

// Identity is who is asking, as reported by the chat platform.
type Identity struct {
	ID       int64
	Username string
}

// Policy maps identities to roles. Usernames are compared case-sensitively
// and without the leading "@".
type Policy struct {
	byUsername map[string]Role
	byID       map[int64]Role
}

func NewPolicy() *Policy {
	return &Policy{
		byUsername: make(map[string]Role),
		byID:       make(map[int64]Role),
	}
}

// NewAdminPolicy grants RoleAdmin to the given usernames and user IDs.
func NewAdminPolicy(usernames []string, ids []int64) *Policy {
	p := NewPolicy()
	for _, name := range usernames {
		p.GrantUsername(name, RoleAdmin)
	}
	for _, id := range ids {
		p.GrantID(id, RoleAdmin)
	}
	return p
}

func (p *Policy) GrantUsername(username string, role Role) {
	username = normalizeUsername(username)
	if username == "" {
		return
	}
	p.byUsername[username] = role
}

func (p *Policy) GrantID(id int64, role Role) {
	if id == 0 {
		return
	}
	p.byID[id] = role
}

// Roles returns the roles held by the identity.
func (p *Policy) Roles(who Identity) []Role {
	var roles []Role
	if role, ok := p.byID[who.ID]; ok && who.ID != 0 {
		roles = append(roles, role)
	}
	if name := normalizeUsername(who.Username); name != "" {
		if role, ok := p.byUsername[name]; ok && !containsRole(roles, role) {
			roles = append(roles, role)
		}
	}
	return roles
}

// Allows reports whether any role of the identity carries perm.
func (p *Policy) Allows(who Identity, perm Permission) bool {
	for _, role := range p.Roles(who) {
		for _, granted := range rolePermissions[role] {
			if granted == perm {
				return true
			}
		}
	}
	return false
}

func normalizeUsername(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), "@")
}

func containsRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
