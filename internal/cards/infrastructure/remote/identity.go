package remote

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"classifieds/internal/cards/domain"
	"classifieds/internal/common/types"
)

// IdentityClient talks to the user/auth service.
type IdentityClient struct {
	client *Client
	parser *jwt.Parser
	now    func() time.Time
}

// NewIdentityClient creates an IdentityClient over client.
func NewIdentityClient(client *Client) *IdentityClient {
	return &IdentityClient{
		client: client,
		parser: jwt.NewParser(),
		now:    time.Now,
	}
}

// ValidateToken asks the identity service whether token is valid.
// Tokens that are not well-formed JWTs, or whose exp claim has passed, are
// rejected locally without a round trip. The signature is only checked remotely.
func (c *IdentityClient) ValidateToken(ctx context.Context, token string) (bool, error) {
	if !c.plausible(token) {
		return false, nil
	}

	var resp struct {
		Valid bool `json:"valid"`
	}
	err := c.client.Do(ctx, Call{
		Operation: "validate_token",
		Method:    http.MethodGet,
		Path:      "/auth/validate",
		Token:     token,
	}, &resp)
	if isClientError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return resp.Valid, nil
}

func (c *IdentityClient) plausible(token string) bool {
	if token == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := c.parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return false
	}
	return exp == nil || c.now().Before(exp.Time)
}

// UserByToken resolves the user the token belongs to.
func (c *IdentityClient) UserByToken(ctx context.Context, token string) (domain.User, error) {
	return c.fetchUser(ctx, Call{
		Operation: "user_by_token",
		Method:    http.MethodGet,
		Path:      "/user/get",
		Token:     token,
	})
}

// UserByID resolves any user by id on behalf of the token's user.
func (c *IdentityClient) UserByID(ctx context.Context, token string, id types.UserID) (domain.User, error) {
	return c.fetchUser(ctx, Call{
		Operation: "user_by_id",
		Method:    http.MethodGet,
		Path:      "/user/get",
		Query:     url.Values{"userId": {strconv.FormatInt(int64(id), 10)}},
		Token:     token,
	})
}

func (c *IdentityClient) fetchUser(ctx context.Context, call Call) (domain.User, error) {
	var user domain.User
	err := c.client.Do(ctx, call, &user)
	if isClientError(err) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	if user.ID.IsZero() {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

// LinkCard records card as owned by the token's user.
func (c *IdentityClient) LinkCard(ctx context.Context, token string, card domain.CardID) error {
	return c.client.Do(ctx, Call{
		Operation:   "link_card",
		Method:      http.MethodPost,
		Path:        "/user/addCard/" + card.String(),
		Token:       token,
		ContentType: "application/json",
	}, nil)
}

// UnlinkCard removes card from the token's user.
func (c *IdentityClient) UnlinkCard(ctx context.Context, token string, card domain.CardID) error {
	return c.client.Do(ctx, Call{
		Operation: "unlink_card",
		Method:    http.MethodDelete,
		Path:      "/user/card/del/" + card.String(),
		Token:     token,
	}, nil)
}

func isClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status >= 400 && se.Status < 500
}

