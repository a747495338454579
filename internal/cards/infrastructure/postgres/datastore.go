package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"classifieds/internal/cards/domain"
	"classifieds/internal/common/metrics"
)

// DataStore implements domain.AtomicExecutor and domain.Repositories over Postgres.
type DataStore struct {
	db            TxBeginner
	cardRepo      *CardRepository
	complaintRepo *ComplaintRepository
	searchIndex   *SearchIndex
}

// NewDataStore creates a new DataStore with the given connection pool.
func NewDataStore(db TxBeginner) *DataStore {
	return &DataStore{
		db:            db,
		cardRepo:      NewCardRepository(db),
		complaintRepo: NewComplaintRepository(db),
		searchIndex:   NewSearchIndex(db),
	}
}

// Cards returns the card repository.
func (ds *DataStore) Cards() domain.CardRepository {
	return ds.cardRepo
}

// Complaints returns the complaint repository.
func (ds *DataStore) Complaints() domain.ComplaintRepository {
	return ds.complaintRepo
}

// SearchIndex returns the full-text card index.
func (ds *DataStore) SearchIndex() domain.SearchIndex {
	return ds.searchIndex
}

// withTx returns repositories bound to one transaction.
func (ds *DataStore) withTx(tx pgx.Tx) *DataStore {
	return &DataStore{
		db:            ds.db,
		cardRepo:      NewCardRepository(tx),
		complaintRepo: NewComplaintRepository(tx),
		searchIndex:   NewSearchIndex(tx),
	}
}

// Atomic executes the callback within a database transaction.
// If the callback returns nil, the transaction is committed.
// If the callback returns an error or panics, the transaction is rolled back.
func (ds *DataStore) Atomic(ctx context.Context, fn domain.AtomicCallback) (err error) {
	start := time.Now()
	tx, err := ds.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = fmt.Errorf("tx error: %w, rollback error: %v", err, rbErr)
			}
			metrics.RecordTransactionDuration("rollback", time.Since(start))
			return
		}
		if err = tx.Commit(ctx); err != nil {
			err = fmt.Errorf("commit transaction: %w", err)
			return
		}
		metrics.RecordTransactionDuration("commit", time.Since(start))
	}()

	err = fn(ds.withTx(tx))
	return
}

var (
	_ domain.AtomicExecutor = (*DataStore)(nil)
	_ domain.Repositories   = (*DataStore)(nil)
)
