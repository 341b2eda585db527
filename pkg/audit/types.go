package audit

import "time"

// EventType represents the category of audit event
type EventType string

const (
	EventTypeRoleCreate       EventType = "role.create"
	EventTypeRoleUpdate       EventType = "role.update"
	EventTypeRoleDelete       EventType = "role.delete"
	EventTypePermissionCreate EventType = "permission.create"
	EventTypePermissionUpdate EventType = "permission.update"
	EventTypeRoleReload       EventType = "role.reload"

	EventTypeClaimsSet EventType = "claims.set"

	EventTypeUserRoleChange   EventType = "user.role_change"
	EventTypeUserStatusChange EventType = "user.status_change"
	EventTypeUserDelete       EventType = "user.delete"

	EventTypeAccessDenied EventType = "authz.access_denied"

	EventTypeCalendarDenied EventType = "calendar.denied"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	StatusSuccess EventStatus = "success"
	StatusFailure EventStatus = "failure"
	StatusDenied  EventStatus = "denied"
)

// ResourceType is the kind of thing acted upon
type ResourceType string

const (
	ResourceRole       ResourceType = "role"
	ResourcePermission ResourceType = "permission"
	ResourceUser       ResourceType = "user"
	ResourceClaims     ResourceType = "claims"
	ResourceBoard      ResourceType = "board"
	ResourceEvent      ResourceType = "calendar_event"
	ResourceRoute      ResourceType = "route"
)

// Actor identifies who performed an action
type Actor struct {
	UID  string `json:"uid"`
	Role string `json:"role"`
}

// Event is a single audit record
type Event struct {
	ID           int64                  `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	EventType    EventType              `json:"eventType"`
	Status       EventStatus            `json:"status"`
	Actor        Actor                  `json:"actor"`
	ResourceType ResourceType           `json:"resourceType,omitempty"`
	ResourceID   string                 `json:"resourceId,omitempty"`
	Message      string                 `json:"message,omitempty"`
	RequestID    string                 `json:"requestId,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// SearchFilter narrows DBLogger.Search
type SearchFilter struct {
	EventType    EventType
	ActorUID     string
	ResourceType ResourceType
	ResourceID   string
	Since        *time.Time
	Limit        int
	Offset       int
}
