package application

import (
	"context"
	"crypto/subtle"
	"fmt"

	"classifieds/internal/cards/domain"
	"classifieds/internal/common/logging"
)

// gate resolves callers: bearer token validation, user lookup and the
// service api key shared with the other services.
type gate struct {
	identity IdentityGateway
	apiKey   string
}

// checkToken fails with ErrTokenInvalid unless the identity service accepts token.
func (g gate) checkToken(ctx context.Context, token string) error {
	if token == "" {
		return domain.ErrTokenInvalid
	}
	ok, err := g.identity.ValidateToken(ctx, token)
	if err != nil {
		logging.WarnContext(ctx, "Token validation failed", "error", err)
		return fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	}
	if !ok {
		return domain.ErrTokenInvalid
	}
	return nil
}

// caller validates token and returns the user it belongs to. The returned
// context carries the user id for logging.
func (g gate) caller(ctx context.Context, token string) (context.Context, domain.User, error) {
	if err := g.checkToken(ctx, token); err != nil {
		return ctx, domain.User{}, err
	}
	user, err := g.identity.UserByToken(ctx, token)
	if err != nil {
		return ctx, domain.User{}, remoteError(err, domain.ErrRemoteCall)
	}
	return logging.WithUserID(ctx, user.ID), user, nil
}

// checkAPIKey compares key with the configured service key in constant time.
func (g gate) checkAPIKey(key string) error {
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(g.apiKey)) != 1 {
		return domain.ErrInvalidAPIKey
	}
	return nil
}

// remoteError keeps classified errors from a collaborator and wraps the
// rest in fallback so callers always see a domain kind.
func remoteError(err, fallback error) error {
	if domain.KindOf(err) != domain.KindInternal {
		return err
	}
	return fmt.Errorf("%w: %v", fallback, err)
}
