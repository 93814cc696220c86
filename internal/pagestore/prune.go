package pagestore

import (
	"context"
	"fmt"
	"time"

	"folio/internal/logging"
)

// pruneBatch bounds how many victims are selected per round trip.
const pruneBatch = 64

// Stats describes store usage.
type Stats struct {
	Path         string    `json:"path"`
	Entries      int       `json:"entries"`
	Documents    int       `json:"documents"`
	TotalBytes   int64     `json:"total_bytes"`
	MaxBytes     int64     `json:"max_bytes"`
	OldestAccess time.Time `json:"oldest_access"`
	NewestAccess time.Time `json:"newest_access"`
}

// Stats reports entry counts and stored size.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Path: s.path, MaxBytes: s.maxBytes}
	var oldest, newest int64
	err := retryOnBusy(ensureContext(ctx), func() error {
		return s.db.QueryRowContext(ensureContext(ctx),
			`SELECT COUNT(1), COUNT(DISTINCT document), COALESCE(SUM(size_bytes), 0),
                    COALESCE(MIN(accessed_at), 0), COALESCE(MAX(accessed_at), 0)
             FROM pages`,
		).Scan(&stats.Entries, &stats.Documents, &stats.TotalBytes, &oldest, &newest)
	})
	if err != nil {
		return stats, fmt.Errorf("page store stats: %w", err)
	}
	if stats.Entries > 0 {
		stats.OldestAccess = time.Unix(0, oldest).UTC()
		stats.NewestAccess = time.Unix(0, newest).UTC()
	}
	return stats, nil
}

type victim struct {
	rowid int64
	size  int64
}

// Prune deletes least recently accessed pages until the store fits its
// budget and returns how many were removed.
func (s *Store) Prune(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)
	if s.maxBytes <= 0 {
		return 0, nil
	}
	if err := s.refreshSize(ctx); err != nil {
		return 0, err
	}

	removed := 0
	var freed int64
	for {
		s.mu.Lock()
		excess := s.bytes - s.maxBytes
		s.mu.Unlock()
		if excess <= 0 {
			break
		}

		victims, err := s.oldest(ctx, pruneBatch)
		if err != nil {
			return removed, err
		}
		if len(victims) == 0 {
			break
		}
		for _, v := range victims {
			if excess <= 0 {
				break
			}
			if err := s.execWithoutResultRetry(ctx, "DELETE FROM pages WHERE rowid = ?", v.rowid); err != nil {
				return removed, fmt.Errorf("prune page: %w", err)
			}
			excess -= v.size
			freed += v.size
			removed++
			s.mu.Lock()
			s.bytes -= v.size
			s.mu.Unlock()
		}
	}

	if removed > 0 {
		s.logger.Info("pruned page store",
			logging.Int("removed", removed),
			logging.Int64("freed_bytes", freed),
			logging.Int64("max_bytes", s.maxBytes),
		)
	}
	return removed, nil
}

func (s *Store) oldest(ctx context.Context, limit int) ([]victim, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT rowid, size_bytes FROM pages ORDER BY accessed_at ASC, rowid ASC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("select prune victims: %w", err)
	}
	defer rows.Close()

	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.rowid, &v.size); err != nil {
			return nil, fmt.Errorf("scan prune victim: %w", err)
		}
		victims = append(victims, v)
	}
	return victims, rows.Err()
}
