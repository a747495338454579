package remote

import (
	"context"
	"net/http"

	"classifieds/internal/cards/application"
	"classifieds/internal/cards/domain"
)

// CommentClient talks to the comment service.
type CommentClient struct {
	client *Client
}

// NewCommentClient creates a CommentClient over client.
func NewCommentClient(client *Client) *CommentClient {
	return &CommentClient{client: client}
}

// DeleteAllForCard removes every comment left on card.
func (c *CommentClient) DeleteAllForCard(ctx context.Context, token string, card domain.CardID) error {
	return c.client.Do(ctx, Call{
		Operation: "delete_comments",
		Method:    http.MethodDelete,
		Path:      "/comment/delAll/" + card.String(),
		Token:     token,
	}, nil)
}

var (
	_ application.CommentService  = (*CommentClient)(nil)
	_ application.IdentityGateway = (*IdentityClient)(nil)
)
