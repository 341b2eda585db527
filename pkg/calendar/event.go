package calendar

import (
	"encoding/json"

	"github.com/platinummonkey/adminboard/pkg/auth"
)

// RoleSuperAdmin may modify any event
const RoleSuperAdmin = "super_admin"

// Event is one calendar entry. Times are epoch milliseconds.
type Event struct {
	ID                 string       `json:"id"`
	Title              string       `json:"title"`
	Description        string       `json:"description,omitempty"`
	Color              string       `json:"color,omitempty"`
	AllDay             bool         `json:"allDay"`
	Start              int64        `json:"start"`
	End                int64        `json:"end"`
	UserID             string       `json:"userId"`
	UserDisplayName    string       `json:"userDisplayName,omitempty"`
	PhotoURL           string       `json:"photoURL,omitempty"`
	UserEmail          string       `json:"userEmail,omitempty"`
	UserRole           string       `json:"userRole,omitempty"`
	Attachments        []Attachment `json:"attachments,omitempty"`
	CreatedAt          int64        `json:"createdAt"`
	UpdatedAt          int64        `json:"updatedAt,omitempty"`
	LastModifiedBy     string       `json:"lastModifiedBy,omitempty"`
	LastModifiedByName string       `json:"lastModifiedByName,omitempty"`
	LastModifiedByRole string       `json:"lastModifiedByRole,omitempty"`
}

type Attachment struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
	Path string `json:"path"`
	URL  string `json:"url"`
}

// UnmarshalJSON accepts events written by older clients that stored the
// owner as uid or ownerId
func (e *Event) UnmarshalJSON(data []byte) error {
	type plain Event
	var aux struct {
		plain
		UID     string `json:"uid"`
		OwnerID string `json:"ownerId"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = Event(aux.plain)
	e.UserID = auth.IdentityFromFields(aux.UserID, aux.UID, aux.OwnerID).UID
	return nil
}

// CanModify reports whether the caller may change e
func CanModify(e *Event, caller auth.Identity, role string) bool {
	if role == RoleSuperAdmin {
		return true
	}
	return !caller.IsZero() && e.UserID == caller.UID
}

// Overlaps reports whether e intersects [from, to). Zero bounds are open.
// An event ending exactly at from is outside; an instant at from is inside.
func (e *Event) Overlaps(from, to int64) bool {
	if from > 0 && e.End <= from && e.Start < from {
		return false
	}
	if to > 0 && e.Start >= to {
		return false
	}
	return true
}
