package kanban

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AddComment inserts a comment at the head of the task's comments. A
// ParentID makes it a reply and copies the parent into ReplyTo.
func (s *Service) AddComment(ctx context.Context, columnID, taskID string, in CommentInput, actor Actor) (*Comment, error) {
	if in.MessageType == "" {
		in.MessageType = MessageText
	}
	switch in.MessageType {
	case MessageText:
		if strings.TrimSpace(in.Message) == "" {
			return nil, fmt.Errorf("%w: comment message is required", ErrInvalidInput)
		}
	case MessageImage, MessageFile:
		if in.File == nil || in.File.Path == "" {
			return nil, fmt.Errorf("%w: %s comment requires an uploaded file", ErrInvalidInput, in.MessageType)
		}
		if !ownedBlob(in.File.Path, "comments", columnID, taskID) {
			return nil, fmt.Errorf("%w: comment file %s was not uploaded for task %s", ErrInvalidInput, in.File.Path, taskID)
		}
		if in.Message == "" {
			in.Message = in.File.URL
		}
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidInput, in.MessageType)
	}

	var created Comment
	_, err := s.mutate(ctx, "add_comment", false, func(b *Board, _ *change) error {
		t, err := b.task(columnID, taskID)
		if err != nil {
			return err
		}
		now := s.now()
		created = Comment{
			ID:          uuid.NewString(),
			Message:     in.Message,
			MessageType: in.MessageType,
			File:        in.File,
			Name:        actor.Name,
			AvatarURL:   actor.AvatarURL,
			Email:       actor.Email,
			Role:        actor.Role,
			RoleLevel:   actor.RoleLevel,
			CreatedAt:   now,
			UpdatedAt:   now,
			CreatedBy:   actor.ID,
			UpdatedBy:   actor.ID,
		}
		if in.ParentID != "" {
			parent, err := t.comment(in.ParentID)
			if err != nil {
				return err
			}
			created.ParentID = parent.ID
			created.ReplyTo = &ReplyTo{
				ID:        parent.ID,
				Message:   parent.Message,
				Name:      parent.Name,
				AvatarURL: parent.AvatarURL,
			}
		}
		t.Comments = append([]Comment{created}, t.Comments...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateComment edits a text comment's message
func (s *Service) UpdateComment(ctx context.Context, columnID, taskID, commentID, message string, actor Actor) (*Comment, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: comment message is required", ErrInvalidInput)
	}
	var updated Comment
	_, err := s.mutate(ctx, "update_comment", false, func(b *Board, _ *change) error {
		t, err := b.task(columnID, taskID)
		if err != nil {
			return err
		}
		c, err := t.comment(commentID)
		if err != nil {
			return err
		}
		if c.MessageType != MessageText {
			return fmt.Errorf("%w: only text comments can be edited", ErrInvalidInput)
		}
		c.Message = message
		c.UpdatedAt, c.UpdatedBy = s.now(), actor.ID
		updated = *c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteComment removes a comment, deleting its blob for image and file
// comments. Replies stay and keep their ReplyTo snapshot.
func (s *Service) DeleteComment(ctx context.Context, columnID, taskID, commentID string) error {
	_, err := s.mutate(ctx, "delete_comment", false, func(b *Board, ch *change) error {
		t, err := b.task(columnID, taskID)
		if err != nil {
			return err
		}
		c, err := t.comment(commentID)
		if err != nil {
			return err
		}
		if c.File != nil {
			ch.deleteBlob(c.File.Path)
		}
		kept := make([]Comment, 0, len(t.Comments))
		for _, cm := range t.Comments {
			if cm.ID != commentID {
				kept = append(kept, cm)
			}
		}
		t.Comments = kept
		return nil
	})
	return err
}
