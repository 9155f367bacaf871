// Package tenancy implements ownership policy and the agent tree.
// Every resource carries an owner (or creator) user ID; policy reduces
// to a single question: may this actor act on resources owned by that
// user?
package tenancy

import (
	"errors"
	"fmt"

	"keygate/internal/store"
)

// ErrForbidden is returned when an actor reaches outside its ownership
// scope.
var ErrForbidden = errors.New("tenancy: actor does not own this resource")

// Actor is the authenticated principal a request runs as.
type Actor struct {
	ID   int64
	Role store.Role
}

// IsAdmin reports whether the actor bypasses ownership checks.
func (a Actor) IsAdmin() bool { return a.Role == store.RoleAdmin }

// Authorize checks whether the actor may act on a resource owned by
// ownerID. Admins see everything; everyone else sees only their own.
// Sub-agent resources are NOT visible to the parent: ownership does not
// flow up or down the tree.
func Authorize(actor Actor, ownerID int64) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor.ID == ownerID {
		return nil
	}
	return fmt.Errorf("%w (actor %d, owner %d)", ErrForbidden, actor.ID, ownerID)
}

// ScopeOwner returns the owner ID a listing should be filtered by:
// zero (all owners) for admins, the actor's own ID otherwise.
func ScopeOwner(actor Actor) int64 {
	if actor.IsAdmin() {
		return 0
	}
	return actor.ID
}
