package users

import (
	"bytes"
	"context"
	"errors"
	"regexp"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	"github.com/user/taskmanager-go/apperror"
	"github.com/user/taskmanager-go/auth"
)

const (
	avatarSize        = 250
	avatarContentType = "image/png"

	msgNotAnImage   = "Please upload an image file."
	msgFileTooLarge = "File too large"
)

// DefaultAvatarMaxBytes is the upload limit used when none is configured.
const DefaultAvatarMaxBytes int64 = 1_000_000

var avatarExtension = regexp.MustCompile(`(?i)\.(jpg|jpeg|png)$`)

// AvatarPolicy bounds what an avatar upload may be.
type AvatarPolicy struct {
	MaxBytes int64
}

func (p AvatarPolicy) maxBytes() int64 {
	if p.MaxBytes <= 0 {
		return DefaultAvatarMaxBytes
	}
	return p.MaxBytes
}

// SetAvatar checks the upload, normalizes it to a 250x250 PNG and stores it.
// Uploads are rejected on size, filename extension or sniffed content before
// any decoding happens.
func (s *AccountService) SetAvatar(ctx context.Context, session *auth.Session, filename string, data []byte) error {
	if int64(len(data)) > s.avatars.maxBytes() {
		return apperror.NewBadRequestError(msgFileTooLarge, nil)
	}
	if !avatarExtension.MatchString(filename) {
		return apperror.NewBadRequestError(msgNotAnImage, nil)
	}
	if mt := mimetype.Detect(data); !mt.Is("image/jpeg") && !mt.Is("image/png") {
		return apperror.NewBadRequestError(msgNotAnImage, nil)
	}

	normalized, err := normalizeAvatar(data)
	if err != nil {
		return apperror.NewBadRequestError(msgNotAnImage, err)
	}

	if err := s.users.SetAvatar(ctx, session.User.ID, normalized); err != nil {
		return avatarStoreError(err)
	}
	session.User.Avatar = normalized
	return nil
}

// ClearAvatar unsets the acting user's avatar.
func (s *AccountService) ClearAvatar(ctx context.Context, session *auth.Session) error {
	if err := s.users.SetAvatar(ctx, session.User.ID, nil); err != nil {
		return avatarStoreError(err)
	}
	session.User.Avatar = nil
	return nil
}

// Avatar returns a user's stored avatar and its content type. A missing user
// and a user without an avatar are the same NotFound.
func (s *AccountService) Avatar(ctx context.Context, userID string) ([]byte, string, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil, "", apperror.NewNotFoundError("avatar not found", nil)
		}
		return nil, "", apperror.NewDatabaseError("failed to load user", err)
	}
	if len(u.Avatar) == 0 {
		return nil, "", apperror.NewNotFoundError("avatar not found", nil)
	}
	return u.Avatar, avatarContentType, nil
}

// normalizeAvatar crops and scales to a square and re-encodes as PNG.
func normalizeAvatar(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	img = imaging.Fill(img, avatarSize, avatarSize, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func avatarStoreError(err error) error {
	if errors.Is(err, auth.ErrUserNotFound) {
		return apperror.NewNotFoundError("user not found", nil)
	}
	return apperror.NewDatabaseError("failed to save avatar", err)
}
