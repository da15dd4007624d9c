// Package rbac answers authorization questions from team memberships.
package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/dreyhq/drey/pkg/storage"
	"github.com/dreyhq/drey/pkg/types"
)

// ErrAccessDenied is returned when a role check fails
var ErrAccessDenied = errors.New("access denied")

// Checker resolves roles against the store.
type Checker struct {
	store storage.Store
}

// NewChecker returns a role checker over the given store
func NewChecker(store storage.Store) *Checker {
	return &Checker{store: store}
}

// IsGlobalAdmin reports whether the user is an admin of the global team
func (c *Checker) IsGlobalAdmin(ctx context.Context, userID int64) (bool, error) {
	global, err := c.store.GetGlobalTeam(ctx)
	if err != nil {
		if storage.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to resolve global team: %w", err)
	}
	m, err := c.store.GetMembership(ctx, userID, global.ID)
	if err != nil {
		if storage.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to resolve membership: %w", err)
	}
	return m.Role == types.TeamRoleAdmin, nil
}

// TeamRole returns the user's role in a team, or "" for non-members
func (c *Checker) TeamRole(ctx context.Context, userID, teamID int64) (types.TeamRole, error) {
	m, err := c.store.GetMembership(ctx, userID, teamID)
	if err != nil {
		if storage.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to resolve membership: %w", err)
	}
	return m.Role, nil
}

// RequireGlobalAdmin fails with ErrAccessDenied unless the user is a
// global admin
func (c *Checker) RequireGlobalAdmin(ctx context.Context, userID int64) error {
	ok, err := c.IsGlobalAdmin(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %d is not a global admin: %w", userID, ErrAccessDenied)
	}
	return nil
}

// RequireTeamAdmin passes for team admins and global admins
func (c *Checker) RequireTeamAdmin(ctx context.Context, userID, teamID int64) error {
	role, err := c.TeamRole(ctx, userID, teamID)
	if err != nil {
		return err
	}
	if role == types.TeamRoleAdmin {
		return nil
	}
	ok, err := c.IsGlobalAdmin(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %d is not an admin of team %d: %w", userID, teamID, ErrAccessDenied)
	}
	return nil
}

// RequireTeamMember passes for any member of the team or a global admin
func (c *Checker) RequireTeamMember(ctx context.Context, userID, teamID int64) error {
	role, err := c.TeamRole(ctx, userID, teamID)
	if err != nil {
		return err
	}
	if role != "" {
		return nil
	}
	ok, err := c.IsGlobalAdmin(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %d is not a member of team %d: %w", userID, teamID, ErrAccessDenied)
	}
	return nil
}
