package kanban

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/adminboard/pkg/storage"
)

// Upload is a file received from a client
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

func (s *Service) requireBlobs() error {
	if s.blobs == nil {
		return errors.New("blob storage is not configured")
	}
	return nil
}

// AddAttachment stores the file at attachments/{status}/{taskId}/{uuid}.{ext}
// and appends it to the task. The blob is removed again if the board write
// fails.
func (s *Service) AddAttachment(ctx context.Context, columnID, taskID string, up Upload, actor Actor) (*Attachment, error) {
	if err := s.requireBlobs(); err != nil {
		return nil, err
	}
	// the status is the owning column, so the path is known before the write
	if _, err := s.Task(ctx, columnID, taskID); err != nil {
		return nil, err
	}
	att, err := s.put(ctx, path.Join("attachments", columnID, taskID), up)
	if err != nil {
		return nil, err
	}

	_, err = s.mutate(ctx, "add_attachment", false, func(b *Board, _ *change) error {
		t, err := b.task(columnID, taskID)
		if err != nil {
			return err
		}
		t.Attachments = append(t.Attachments, *att)
		t.UpdatedAt, t.UpdatedBy = s.now(), actor.ID
		return nil
	})
	if err != nil {
		s.cleanup(ctx, "kanban", []string{att.Path})
		return nil, err
	}
	return att, nil
}

// UploadCommentFile stores a comment file at
// comments/{columnId}/{taskId}/{uuid}.{ext}. The result is passed to
// AddComment as CommentInput.File.
func (s *Service) UploadCommentFile(ctx context.Context, columnID, taskID string, up Upload) (*Attachment, error) {
	if err := s.requireBlobs(); err != nil {
		return nil, err
	}
	if _, err := s.Task(ctx, columnID, taskID); err != nil {
		return nil, err
	}
	return s.put(ctx, path.Join("comments", columnID, taskID), up)
}

// DeleteAttachment removes an attachment and its blob
func (s *Service) DeleteAttachment(ctx context.Context, columnID, taskID, attachmentID string, actor Actor) error {
	_, err := s.mutate(ctx, "delete_attachment", false, func(b *Board, c *change) error {
		t, err := b.task(columnID, taskID)
		if err != nil {
			return err
		}
		kept := make([]Attachment, 0, len(t.Attachments))
		found := false
		for _, a := range t.Attachments {
			if a.ID == attachmentID {
				found = true
				c.deleteBlob(a.Path)
				continue
			}
			kept = append(kept, a)
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrAttachmentNotFound, attachmentID)
		}
		t.Attachments = kept
		t.UpdatedAt, t.UpdatedBy = s.now(), actor.ID
		return nil
	})
	return err
}

func (s *Service) put(ctx context.Context, dir string, up Upload) (*Attachment, error) {
	if up.Content == nil {
		return nil, fmt.Errorf("%w: file content is required", ErrInvalidInput)
	}
	obj, err := s.blobs.Put(ctx, storage.UniqueName(dir, up.Filename), up.Content, up.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", up.Filename, err)
	}
	size := obj.Size
	if size == 0 {
		size = up.Size
	}
	contentType := up.ContentType
	if contentType == "" {
		contentType = obj.ContentType
	}
	return &Attachment{
		ID:   uuid.NewString(),
		Name: up.Filename,
		Size: size,
		Type: contentType,
		Path: obj.Path,
		URL:  obj.URL,
	}, nil
}

// ownedBlob reports whether p is a blob written for taskID under dir, that
// is dir/{column}/{taskID}/{name}. An empty columnID accepts any column.
func ownedBlob(p, dir, columnID, taskID string) bool {
	if p == "" || taskID == "" || path.Clean(p) != p {
		return false
	}
	parent := path.Dir(p)
	if !strings.HasPrefix(parent, dir+"/") || !strings.HasSuffix(parent, "/"+taskID) {
		return false
	}
	column := strings.TrimSuffix(strings.TrimPrefix(parent, dir+"/"), "/"+taskID)
	if column == "" || len(parent) < len(dir)+len(taskID)+3 {
		return false
	}
	return columnID == "" || column == columnID
}

// checkTaskBlobs rejects attachment and comment file paths that were not
// written for t
func checkTaskBlobs(t Task) error {
	for _, a := range t.Attachments {
		if !ownedBlob(a.Path, "attachments", "", t.ID) {
			return fmt.Errorf("%w: attachment %s does not belong to task %s", ErrInvalidInput, a.Path, t.ID)
		}
	}
	for _, c := range t.Comments {
		if c.File != nil && !ownedBlob(c.File.Path, "comments", "", t.ID) {
			return fmt.Errorf("%w: comment file %s does not belong to task %s", ErrInvalidInput, c.File.Path, t.ID)
		}
	}
	return nil
}
