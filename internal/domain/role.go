package domain

import (
	"fmt"
	"slices"
	"strings"
)

type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleGenerator Role = "GENERATOR"
	RoleReceiver  Role = "RECEIVER"
	RoleScanner   Role = "SCANNER"
	RoleUser      Role = "USER"
)

var allRoles = []Role{RoleAdmin, RoleGenerator, RoleReceiver, RoleScanner, RoleUser}

// Capability is an action gated on role membership.
type Capability string

const (
	CapIssueResource     Capability = "resource:issue"
	CapClaimResource     Capability = "resource:claim"
	CapBypassOwnership   Capability = "resource:bypass_ownership"
	CapManageUsers       Capability = "users:manage"
	CapObserveEvents     Capability = "events:observe"
	CapManageOwnSettings Capability = "settings:manage"
	CapManageEvents      Capability = "events:manage"
)

var capabilityRoles = map[Capability][]Role{
	CapIssueResource:     {RoleAdmin, RoleGenerator},
	CapClaimResource:     {RoleAdmin, RoleGenerator, RoleReceiver, RoleScanner, RoleUser},
	CapBypassOwnership:   {RoleAdmin, RoleScanner},
	CapManageUsers:       {RoleAdmin},
	CapObserveEvents:     {RoleAdmin},
	CapManageOwnSettings: {RoleAdmin, RoleGenerator},
	CapManageEvents:      {RoleAdmin},
}

// SelfAssignableRoles are the only roles a signup request may ask for.
var SelfAssignableRoles = []Role{RoleGenerator, RoleReceiver}

func AllRoles() []Role { return slices.Clone(allRoles) }

func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(raw)))
	if !slices.Contains(allRoles, r) {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return r, nil
}

func Can(roles []Role, c Capability) bool {
	allowed, ok := capabilityRoles[c]
	if !ok {
		return false
	}
	for _, r := range roles {
		if slices.Contains(allowed, r) {
			return true
		}
	}
	return false
}

func HasRole(roles []Role, want Role) bool { return slices.Contains(roles, want) }

// SortRoles returns roles deduplicated and in a stable order.
func SortRoles(roles []Role) []Role {
	out := slices.Clone(roles)
	slices.Sort(out)
	return slices.Compact(out)
}

func RoleStrings(roles []Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

func RolesFromStrings(raw []string) ([]Role, error) {
	out := make([]Role, 0, len(raw))
	for _, s := range raw {
		r, err := ParseRole(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return SortRoles(out), nil
}
