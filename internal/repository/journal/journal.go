package journal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
)

// --- Models corresponding to DB tables ---

type MessageRecord struct {
	ID         int64     `db:"id"`
	ProductID  string    `db:"product_id"`
	Sequence   *int64    `db:"sequence"` // NULL for messages without one
	Type       string    `db:"type"`
	Raw        []byte    `db:"raw"`
	ReceivedAt time.Time `db:"received_at"`
}

// NewMessageRecord builds a record from one raw feed frame, pulling out
// the type and sequence for indexed queries. Frames that are not JSON
// objects still get journaled with empty metadata.
func NewMessageRecord(productID string, raw []byte, receivedAt time.Time) MessageRecord {
	var meta struct {
		Type     string `json:"type"`
		Sequence *int64 `json:"sequence"`
	}
	_ = json.Unmarshal(raw, &meta)

	return MessageRecord{
		ProductID:  productID,
		Sequence:   meta.Sequence,
		Type:       meta.Type,
		Raw:        raw,
		ReceivedAt: receivedAt,
	}
}

// --- Repository Interface ---

// JournalRepository persists raw feed messages for later inspection or
// replay. It never feeds back into the live book.
type JournalRepository interface {
	InsertMessage(ctx context.Context, rec MessageRecord) error
	ListMessages(ctx context.Context, productID string, fromSeq int64, limit int) ([]MessageRecord, error)
}

// --- Implementation ---

type journalRepositoryImpl struct {
	db *sqlx.DB
}

func NewJournalRepository(db *sqlx.DB) JournalRepository {
	return &journalRepositoryImpl{db: db}
}

func (r *journalRepositoryImpl) InsertMessage(ctx context.Context, rec MessageRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feed_messages (product_id, sequence, type, raw, received_at)
         VALUES ($1,$2,$3,$4,$5)`,
		rec.ProductID, rec.Sequence, rec.Type, rec.Raw, rec.ReceivedAt,
	)
	return err
}

func (r *journalRepositoryImpl) ListMessages(ctx context.Context, productID string, fromSeq int64, limit int) ([]MessageRecord, error) {
	var records []MessageRecord
	err := r.db.SelectContext(ctx, &records,
		`SELECT id, product_id, sequence, type, raw, received_at
           FROM feed_messages
          WHERE product_id = $1 AND sequence >= $2
          ORDER BY sequence ASC
          LIMIT $3`,
		productID, fromSeq, limit,
	)
	if err != nil {
		return nil, err
	}
	return records, nil
}
