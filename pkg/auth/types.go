package auth

import (
	"slices"
	"time"
)

// State is the lifecycle state of a session
type State string

const (
	StateLoading         State = "loading"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

// DefaultRole is assigned when neither the token nor the profile names a
// known role
const DefaultRole = "user"

// PermissionAll grants every permission
const PermissionAll = "all"

// Status is the moderation state of a user profile
type Status string

const (
	StatusActive   Status = "active"
	StatusPending  Status = "pending"
	StatusBanned   Status = "banned"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPending, StatusBanned, StatusRejected:
		return true
	}
	return false
}

// Profile is the user document stored in the users collection.
// RoleLevel and Permissions are copies taken when the role was assigned.
type Profile struct {
	ID                string    `json:"id"`
	DisplayName       string    `json:"displayName"`
	Email             string    `json:"email"`
	Role              string    `json:"role"`
	RoleLevel         int       `json:"roleLevel"`
	Permissions       []string  `json:"permissions"`
	CustomPermissions []string  `json:"customPermissions,omitempty"`
	Status            Status    `json:"status"`
	IsVerified        bool      `json:"isVerified"`
	AvatarURL         string    `json:"avatarUrl,omitempty"`
	CoverURL          string    `json:"coverUrl,omitempty"`
	PhoneNumber       string    `json:"phoneNumber,omitempty"`
	Bio               string    `json:"bio,omitempty"`
	Country           string    `json:"country,omitempty"`
	City              string    `json:"city,omitempty"`
	Address           string    `json:"address,omitempty"`
	Company           string    `json:"company,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Claims are the verified fields of an identity token
type Claims struct {
	UID   string `json:"uid"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Identity is the one caller identity used past the HTTP boundary
type Identity struct {
	UID string `json:"uid"`
}

// IsZero reports whether no caller is identified
func (i Identity) IsZero() bool {
	return i.UID == ""
}

// IdentityFromFields decodes the legacy caller shapes that carry the id
// under userId, uid or id, in that priority order.
func IdentityFromFields(userID, uid, id string) Identity {
	for _, v := range []string{userID, uid, id} {
		if v != "" {
			return Identity{UID: v}
		}
	}
	return Identity{}
}

// Session is the resolved state of one caller
type Session struct {
	State           State    `json:"state"`
	User            *Profile `json:"user"`
	Role            string   `json:"role"`
	RoleLevel       int      `json:"roleLevel"`
	Permissions     []string `json:"permissions"`
	IsAuthenticated bool     `json:"isAuthenticated"`
}

// NewSession returns a session that has not been resolved yet
func NewSession() *Session {
	return &Session{State: StateLoading}
}

// Unauthenticated returns an anonymous session
func Unauthenticated() *Session {
	return &Session{State: StateUnauthenticated}
}

// HasPermission reports whether the session grants code, directly or
// through the "all" sentinel
func (s *Session) HasPermission(code string) bool {
	if s == nil || !s.IsAuthenticated {
		return false
	}
	return slices.Contains(s.Permissions, PermissionAll) || slices.Contains(s.Permissions, code)
}

// HasMinimumLevel reports whether the resolved role is at least level
func (s *Session) HasMinimumLevel(level int) bool {
	if s == nil || !s.IsAuthenticated {
		return false
	}
	return s.RoleLevel >= level
}

// HasRole reports whether the resolved role is one of roles
func (s *Session) HasRole(roles ...string) bool {
	if s == nil || !s.IsAuthenticated {
		return false
	}
	return slices.Contains(roles, s.Role)
}

// Identity returns the caller identity, zero when anonymous
func (s *Session) Identity() Identity {
	if s == nil || s.User == nil {
		return Identity{}
	}
	return Identity{UID: s.User.ID}
}

// UID is shorthand for Identity().UID
func (s *Session) UID() string {
	return s.Identity().UID
}

// SignOut resets every field
func (s *Session) SignOut() {
	*s = Session{State: StateUnauthenticated}
}
