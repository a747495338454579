package application

import (
	"context"
	"time"

	"classifieds/internal/cards/domain"
	"classifieds/internal/common/types"
)

// Upload is one file received from a client, forwarded to the image service.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// IdentityGateway is the user/auth service.
type IdentityGateway interface {
	// ValidateToken reports whether the bearer credential is accepted.
	ValidateToken(ctx context.Context, token string) (bool, error)
	// UserByToken resolves the caller. Returns domain.ErrUserNotFound when absent.
	UserByToken(ctx context.Context, token string) (domain.User, error)
	// UserByID resolves another user. Returns domain.ErrUserNotFound when absent.
	UserByID(ctx context.Context, token string, id types.UserID) (domain.User, error)
	// LinkCard records card as owned by the token's user.
	LinkCard(ctx context.Context, token string, card domain.CardID) error
	// UnlinkCard removes card from the token's user.
	UnlinkCard(ctx context.Context, token string, card domain.CardID) error
}

// ImageService stores card images. Calls made with an empty token use
// service credentials only.
type ImageService interface {
	// StoreImages uploads files for a card already holding currentCount images
	// and returns the new ids in upload order. Returns domain.ErrImageLimitExceeded
	// when the service refuses the count.
	StoreImages(ctx context.Context, token string, files []Upload, currentCount int) ([]domain.ImageID, error)
	ImageMetadata(ctx context.Context, token string, ids []domain.ImageID) ([]domain.ImageMeta, error)
	MoveToTrash(ctx context.Context, token string, ids []domain.ImageID) error
	RestoreFromTrash(ctx context.Context, token string, ids []domain.ImageID) error
	DeletePermanently(ctx context.Context, token string, ids []domain.ImageID) error
	DeleteOne(ctx context.Context, token string, id domain.ImageID) error
}

// CommentService owns card comments.
type CommentService interface {
	DeleteAllForCard(ctx context.Context, token string, card domain.CardID) error
}

// Cache is a byte-valued key store with per-entry expiry.
type Cache interface {
	// Get returns the value and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// IndexPublisher announces card changes to the search index.
type IndexPublisher interface {
	PublishSaved(ctx context.Context, doc domain.CardDocument) error
	PublishDeleted(ctx context.Context, id domain.CardID) error
}
