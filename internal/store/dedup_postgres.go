package store

import (
	"context"
	"fmt"
	"time"
)

var _ DedupRepo = (*PostgresStore)(nil)

func (s *PostgresStore) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO inbound_dedup (message_id, user_id) VALUES ($1, $2) ON CONFLICT (message_id) DO NOTHING`,
		messageID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("record inbound %s: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound %s: %w", messageID, err)
	}
	return n == 1, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, messageID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE inbound_dedup SET processed_at = NOW() WHERE message_id = $1`, messageID,
	); err != nil {
		return fmt.Errorf("mark processed %s: %w", messageID, err)
	}
	return nil
}

func (s *PostgresStore) PruneInbound(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inbound_dedup WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune inbound: %w", err)
	}
	return res.RowsAffected()
}
