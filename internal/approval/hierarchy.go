// Package approval holds the pure rules of the event approval workflow:
// the authority hierarchy, display labels, transitions and allowed actions.
package approval

import (
	"fmt"
	"strings"

	"github.com/noah-isme/event-approval-api/internal/models"
)

// Hierarchy orders roles by authority, lowest first.
type Hierarchy struct {
	order []models.UserRole
	rank  map[models.UserRole]int
}

// DefaultHierarchy is faculty < hod < principal < cso.
func DefaultHierarchy() Hierarchy {
	h, _ := NewHierarchy([]string{"faculty", "hod", "principal", "cso"})
	return h
}

// NewHierarchy parses an ordered role list. Unknown, duplicated and empty entries are rejected.
func NewHierarchy(raw []string) (Hierarchy, error) {
	if len(raw) == 0 {
		return Hierarchy{}, fmt.Errorf("approval hierarchy is empty")
	}
	h := Hierarchy{
		order: make([]models.UserRole, 0, len(raw)),
		rank:  make(map[models.UserRole]int, len(raw)),
	}
	for _, entry := range raw {
		if strings.TrimSpace(entry) == "" {
			return Hierarchy{}, fmt.Errorf("approval hierarchy has an empty entry")
		}
		role, err := models.ParseUserRole(entry)
		if err != nil {
			return Hierarchy{}, fmt.Errorf("approval hierarchy: %w", err)
		}
		if _, dup := h.rank[role]; dup {
			return Hierarchy{}, fmt.Errorf("approval hierarchy lists %q twice", role)
		}
		h.rank[role] = len(h.order)
		h.order = append(h.order, role)
	}
	return h, nil
}

// Roles returns the ordering, lowest authority first.
func (h Hierarchy) Roles() []models.UserRole {
	out := make([]models.UserRole, len(h.order))
	copy(out, h.order)
	return out
}

// Contains reports whether role takes part in the hierarchy.
func (h Hierarchy) Contains(role models.UserRole) bool {
	_, ok := h.rank[role]
	return ok
}

// Rank returns the zero-based authority level of role.
func (h Hierarchy) Rank(role models.UserRole) (int, bool) {
	r, ok := h.rank[role]
	return r, ok
}

// CanApprove reports whether approver sits strictly above creator.
func (h Hierarchy) CanApprove(creator, approver models.UserRole) bool {
	cr, ok := h.rank[creator]
	if !ok {
		return false
	}
	ar, ok := h.rank[approver]
	return ok && ar > cr
}

// EligibleApprovers returns every role strictly above creator, lowest first.
func (h Hierarchy) EligibleApprovers(creator models.UserRole) []models.UserRole {
	cr, ok := h.rank[creator]
	if !ok {
		return []models.UserRole{}
	}
	out := make([]models.UserRole, 0, len(h.order)-cr-1)
	out = append(out, h.order[cr+1:]...)
	return out
}

// ParseRole resolves raw against the hierarchy, case-insensitively.
func (h Hierarchy) ParseRole(raw string) (models.UserRole, bool) {
	role := models.UserRole(strings.ToLower(strings.TrimSpace(raw)))
	return role, h.Contains(role)
}
