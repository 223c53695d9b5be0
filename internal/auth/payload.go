package auth

import (
	"github.com/coverdesk/authcore/internal/model"
	"github.com/coverdesk/authcore/internal/secrets"
)

// RolePayload is the role slice of a session payload.
type RolePayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// PermissionPayload mirrors the stored (resource, action, scope)
// triple.
type PermissionPayload struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Scope    string `json:"scope"`
}

// SessionPayload is the identity snapshot returned by login, refresh,
// and me. It is assembled fresh from the store on every call; tokens
// issued earlier may carry a stale copy until they expire.
type SessionPayload struct {
	UserID         string              `json:"user_id"`
	Email          string              `json:"email"`
	OrganizationID string              `json:"organization_id"`
	FirstName      string              `json:"first_name"`
	LastName       string              `json:"last_name"`
	Role           RolePayload         `json:"role"`
	Permissions    []PermissionPayload `json:"permissions"`
}

// TokenPair is the credential half of a successful login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func buildSessionPayload(d *model.UserDetail) SessionPayload {
	perms := make([]PermissionPayload, 0, len(d.Role.Permissions))
	for _, p := range d.Role.Permissions {
		perms = append(perms, PermissionPayload{
			Resource: p.Resource,
			Action:   p.Action,
			Scope:    p.Scope,
		})
	}

	return SessionPayload{
		UserID:         d.User.ID,
		Email:          d.User.Email,
		OrganizationID: d.User.OrganizationID,
		FirstName:      d.Profile.FirstName,
		LastName:       d.Profile.LastName,
		Role: RolePayload{
			ID:          d.Role.ID,
			Name:        d.Role.Name,
			Description: d.Role.Description,
		},
		Permissions: perms,
	}
}

func permissionKeys(perms []model.Permission) []string {
	keys := make([]string, 0, len(perms))
	for _, p := range perms {
		keys = append(keys, p.Key())
	}
	return keys
}

// issueAccessToken signs an access token for the detail snapshot with a
// fresh jti.
func (e *Engine) issueAccessToken(d *model.UserDetail) (string, error) {
	return e.tokens.Issue(
		d.User.ID,
		d.User.Email,
		d.User.OrganizationID,
		d.Role.Name,
		permissionKeys(d.Role.Permissions),
		secrets.NewJTI(),
	)
}
