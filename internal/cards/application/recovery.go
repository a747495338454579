package application

import (
	"context"
	"encoding/json"
	"fmt"

	"classifieds/internal/cards/domain"
	"classifieds/internal/common/saga"
)

// RegisterRecoveryHandlers binds the compensations that can be replayed
// after a crash. They run with service credentials. relink_owner has no
// handler: linking needs the owner's token, so the sweep leaves it to an
// operator. Sagas interrupted after their last step are marked committed.
func RegisterRecoveryHandlers(r *saga.Recoverer, dataStore domain.AtomicExecutor, images ImageService) {
	r.RegisterTerminal(sagaCreateCard, stepLinkOwner)
	r.RegisterTerminal(sagaDeleteCard, stepDeleteComments)

	r.Register(CompensateDeleteImages, func(ctx context.Context, raw json.RawMessage) error {
		var p imagesPayload
		if err := decodePayload(raw, &p); err != nil {
			return err
		}
		return images.DeletePermanently(ctx, "", p.ImageIDs)
	})

	r.Register(CompensateRestoreImages, func(ctx context.Context, raw json.RawMessage) error {
		var p imagesPayload
		if err := decodePayload(raw, &p); err != nil {
			return err
		}
		return images.RestoreFromTrash(ctx, "", p.ImageIDs)
	})

	r.Register(CompensateDeleteCardRow, func(ctx context.Context, raw json.RawMessage) error {
		var p cardPayload
		if err := decodePayload(raw, &p); err != nil {
			return err
		}
		return dataStore.Atomic(ctx, func(repos domain.Repositories) error {
			return repos.Cards().DeleteByID(ctx, p.CardID)
		})
	})
}

func decodePayload(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: compensation payload: %v", domain.ErrSerialization, err)
	}
	return nil
}
