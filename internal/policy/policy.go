// Package policy answers "may this user do that to this resource".
package policy

import "bookreview/pkg/models"

type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

type Kind string

const (
	KindBook   Kind = "book"
	KindReview Kind = "review"
)

// Principal is the authenticated caller.
type Principal struct {
	ID   string
	Role models.Role
}

func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == models.RoleAdmin
}

// Resource identifies what is acted on. OwnerID is empty for a resource that
// does not exist yet (create).
type Resource struct {
	Kind    Kind
	OwnerID string
}

func Book(ownerID string) Resource   { return Resource{Kind: KindBook, OwnerID: ownerID} }
func Review(authorID string) Resource { return Resource{Kind: KindReview, OwnerID: authorID} }

// Can reports whether user may perform action on resource.
//
// Anyone may read. Any authenticated user may create. Books may be changed
// by their creator or an admin; reviews only by their author.
func Can(user *Principal, action Action, resource Resource) bool {
	if action == ActionRead {
		return true
	}
	if user == nil || user.ID == "" {
		return false
	}
	switch action {
	case ActionCreate:
		return resource.Kind == KindBook || resource.Kind == KindReview
	case ActionUpdate, ActionDelete:
		owner := resource.OwnerID != "" && resource.OwnerID == user.ID
		switch resource.Kind {
		case KindBook:
			return owner || user.IsAdmin()
		case KindReview:
			return owner
		}
	}
	return false
}
