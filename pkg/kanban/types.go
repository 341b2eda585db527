package kanban

import (
	"errors"
	"time"

	"github.com/platinummonkey/adminboard/pkg/auth"
)

// BoardID is the default board document id
const BoardID = "main-board"

// LabelsDocID holds the global label vocabulary in the settings collection
const LabelsDocID = "etiquettes"

const (
	DefaultColumnName = "Untitled"
	DefaultPriority   = "medium"
	DefaultTimezone   = "UTC"
	// DueLayout is the unzoned format due dates are stored in
	DueLayout = "2006-01-02T15:04:05"
)

// Comment message types
const (
	MessageText  = "text"
	MessageImage = "image"
	MessageFile  = "file"
)

var (
	ErrInvalidBoard       = errors.New("Invalid board structure")
	ErrColumnNotFound     = errors.New("column does not exist")
	ErrTaskNotFound       = errors.New("task not found")
	ErrSubtaskNotFound    = errors.New("subtask not found")
	ErrCommentNotFound    = errors.New("comment not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflict           = errors.New("board was modified concurrently")
)

// Board is the aggregate document
type Board struct {
	ID      string            `json:"id"`
	Columns []Column          `json:"columns"`
	Tasks   map[string][]Task `json:"tasks"`
	// Version is the stored document version; it is not part of the body
	Version int64 `json:"version,omitempty"`
}

// NewBoard returns an empty board
func NewBoard() *Board {
	return &Board{ID: BoardID, Columns: []Column{}, Tasks: map[string][]Task{}}
}

type Column struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Actor is the person performing a mutation; it is copied into tasks as
// the reporter and into comments as the author
type Actor struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AvatarURL  string `json:"avatarUrl,omitempty"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	RoleLevel  int    `json:"roleLevel,omitempty"`
	IsVerified bool   `json:"isVerified"`
}

// ActorFromSession copies the caller's identity fields
func ActorFromSession(s *auth.Session) Actor {
	a := Actor{Role: s.Role, RoleLevel: s.RoleLevel}
	if s.User != nil {
		a.ID = s.User.ID
		a.Name = s.User.DisplayName
		a.AvatarURL = s.User.AvatarURL
		a.Email = s.User.Email
		a.IsVerified = s.User.IsVerified
	}
	return a
}

type Assignee struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Email     string `json:"email,omitempty"`
}

type Task struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Priority    string       `json:"priority"`
	Attachments []Attachment `json:"attachments"`
	Labels      []string     `json:"labels"`
	Comments    []Comment    `json:"comments"`
	Assignee    []Assignee   `json:"assignee"`
	Due         []string     `json:"due"`
	Timezone    string       `json:"timezone"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	CreatedBy   string       `json:"createdBy"`
	UpdatedBy   string       `json:"updatedBy"`
	Reporter    Actor        `json:"reporter"`
	Subtasks    []Subtask    `json:"subtasks"`
}

type Subtask struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	CreatedBy string    `json:"createdBy"`
	UpdatedBy string    `json:"updatedBy"`
}

// Attachment is an uploaded blob referenced from a task or comment
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
	Path string `json:"path"`
	URL  string `json:"url"`
}

type ReplyTo struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type Comment struct {
	ID          string      `json:"id"`
	Message     string      `json:"message"`
	MessageType string      `json:"messageType"`
	File        *Attachment `json:"file,omitempty"`
	Name        string      `json:"name"`
	AvatarURL   string      `json:"avatarUrl,omitempty"`
	Email       string      `json:"email,omitempty"`
	Role        string      `json:"role,omitempty"`
	RoleLevel   int         `json:"roleLevel,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	CreatedBy   string      `json:"createdBy"`
	UpdatedBy   string      `json:"updatedBy"`
	ParentID    string      `json:"parentId,omitempty"`
	ReplyTo     *ReplyTo    `json:"replyTo,omitempty"`
}

// TaskInput carries task fields from a caller. On update, nil fields and an
// empty Status leave the stored value alone.
type TaskInput struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	Priority    *string    `json:"priority"`
	Labels      []string   `json:"labels"`
	Assignee    []Assignee `json:"assignee"`
	Due         []string   `json:"due"`
}

// CommentInput carries a new comment. File is set for image and file
// comments after UploadCommentFile.
type CommentInput struct {
	Message     string      `json:"message"`
	MessageType string      `json:"messageType"`
	File        *Attachment `json:"file"`
	ParentID    string      `json:"parentId"`
}
