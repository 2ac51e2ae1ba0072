// Package permission implements the pure membership-role check from
// spec.md §4.8: a function of (role, action), no I/O of its own. The
// caller (internal/events) is responsible for loading the membership
// row first.
package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/collabtodo/collabd/internal/model"
)

// ErrDenied is wrapped into the structured permission_denied error kind
// (spec.md §7) by the event handlers.
var ErrDenied = errors.New("permission_denied")

// MembershipSource is satisfied by repository.Repository; declared here,
// narrow, so this package stays I/O-free except through the caller's
// injected dependency.
type MembershipSource interface {
	ListMembers(ctx context.Context, listID string) ([]model.Membership, error)
}

// RoleFor resolves userID's role on listID, or "" (always-deny) if the
// user has no membership row.
func RoleFor(ctx context.Context, src MembershipSource, listID, userID string) (model.Role, error) {
	members, err := src.ListMembers(ctx, listID)
	if err != nil {
		return "", err
	}
	for _, m := range members {
		if m.UserID == userID {
			return m.Role, nil
		}
	}
	return "", nil
}

var allowed = map[model.Role]map[model.Action]bool{
	model.RoleOwner: {
		model.ActionRead:  true,
		model.ActionWrite: true,
		model.ActionShare: true,
	},
	model.RoleEditor: {
		model.ActionRead:  true,
		model.ActionWrite: true,
	},
	model.RoleViewer: {
		model.ActionRead: true,
	},
}

// Check returns nil if role may perform action, or a wrapped ErrDenied
// otherwise. A caller with no membership row at all should pass role=""
// which always denies.
func Check(role model.Role, action model.Action) error {
	if allowed[role][action] {
		return nil
	}
	return fmt.Errorf("%w: role %q cannot %q", ErrDenied, role, action)
}
