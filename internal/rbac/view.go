package rbac

import "github.com/sentinel-admin/sentinel/internal/view"

// ViewAuth projects the actor into the shape templates consume.
func ViewAuth(actor *AuthContext) *view.Auth {
	if actor.Anonymous() {
		return nil
	}
	perms := make(map[string]bool, len(actor.Permissions))
	for name := range actor.Permissions {
		perms[name] = true
	}
	return &view.Auth{
		UserID:      actor.UserID,
		Name:        actor.Name,
		Email:       actor.Email,
		Roles:       actor.Roles,
		Permissions: perms,
	}
}
