package auth

import "strings"

// Role is the access level derived from the authenticated email's domain.
type Role string

const (
	RoleAdmin  Role = "Admin"
	RoleClerk  Role = "Clerk"
	RoleViewer Role = "Viewer"
)

// RoleTable maps lowercase email domains to roles. Domains not in the
// table always resolve to RoleViewer.
type RoleTable map[string]Role

// DefaultRoleTable returns the built-in domain mapping.
func DefaultRoleTable() RoleTable {
	return RoleTable{
		"admin.yourcompany.com":     RoleAdmin,
		"warehouse.yourcompany.com": RoleClerk,
	}
}

// RoleForEmail derives the role for an email address. The mapping is total:
// unknown or missing domains fall back to RoleViewer.
func (t RoleTable) RoleForEmail(email string) Role {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return RoleViewer
	}
	domain := strings.ToLower(email[at+1:])
	if role, ok := t[domain]; ok {
		return role
	}
	return RoleViewer
}

// ParseRole returns the Role for a config string, or false for unknown values.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.TrimSpace(s)) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleClerk:
		return RoleClerk, true
	case RoleViewer:
		return RoleViewer, true
	}
	return "", false
}

// Identity is the user record returned by the provider's user-info endpoint.
type Identity struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Picture    string `json:"picture"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

// Session is the authenticated state materialized after a completed login
// or a successful restore. Role is always recomputed from Identity.Email,
// never read back from storage.
type Session struct {
	Identity    Identity
	AccessToken string
	IDToken     string
	Role        Role
}

// tokenResponse is the provider's token-exchange payload. ExpiresIn is
// accepted but never stored or checked; there is no refresh flow and an
// expired token surfaces as failed authenticated calls.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}
