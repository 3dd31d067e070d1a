package app

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"serpassist/pkg/domain"
	"serpassist/pkg/storage"
)

const attachmentURLExpiry = 15 * time.Minute

// UploadAttachment stores an attachment payload for an owned conversation
// and returns its descriptor with a presigned download URL.
func (a *App) UploadAttachment(ctx context.Context, identity Identity, conversationID, filename, contentType string, size int64, r io.Reader) (domain.Attachment, error) {
	if a.objects == nil {
		return domain.Attachment{}, fmt.Errorf("%w: attachment storage not configured", ErrInvalidInput)
	}
	filename = path.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." {
		return domain.Attachment{}, fmt.Errorf("%w: filename required", ErrInvalidInput)
	}
	conversation, err := a.GetConversation(ctx, identity, conversationID)
	if err != nil {
		return domain.Attachment{}, err
	}
	key := storage.AttachmentKey(identity.TenantID, conversation.ID, filename)
	if err := a.objects.Put(ctx, key, r, size, contentType); err != nil {
		return domain.Attachment{}, fmt.Errorf("store attachment: %w", err)
	}
	url, err := a.objects.PresignGet(ctx, key, attachmentURLExpiry)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("presign attachment: %w", err)
	}
	return domain.Attachment{
		Type: contentType,
		URL:  url,
		Name: filename,
		Size: size,
	}, nil
}
