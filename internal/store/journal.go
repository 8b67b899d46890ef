package store

import (
	"context"
	"fmt"
)

// RecordCycle inserts rec into the journal and prunes it to the newest
// retain rows. retain <= 0 keeps everything.
func (d *DB) RecordCycle(ctx context.Context, rec *CycleRecord, retain int) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cycles
		(id, started_at, finished_at, state, added, removed, changed, unchanged, emitted, persisted, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		formatTime(rec.StartedAt),
		formatTime(rec.FinishedAt),
		rec.State,
		rec.Added,
		rec.Removed,
		rec.Changed,
		rec.Unchanged,
		rec.Emitted,
		rec.Persisted,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert cycle %s: %w", rec.ID, err)
	}

	if retain > 0 {
		_, err = d.db.ExecContext(ctx, `
			DELETE FROM cycles WHERE id NOT IN (
				SELECT id FROM cycles ORDER BY started_at DESC LIMIT ?
			)
		`, retain)
		if err != nil {
			return fmt.Errorf("failed to prune cycle journal: %w", err)
		}
	}

	return nil
}

// RecentCycles returns up to n journal rows, newest first.
func (d *DB) RecentCycles(ctx context.Context, n int) ([]*CycleRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, state, added, removed, changed, unchanged, emitted, persisted, error
		FROM cycles
		ORDER BY started_at DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	defer rows.Close()

	var records []*CycleRecord
	for rows.Next() {
		var rec CycleRecord
		var startedAt, finishedAt string

		err := rows.Scan(
			&rec.ID,
			&startedAt,
			&finishedAt,
			&rec.State,
			&rec.Added,
			&rec.Removed,
			&rec.Changed,
			&rec.Unchanged,
			&rec.Emitted,
			&rec.Persisted,
			&rec.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle row: %w", err)
		}

		if rec.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("failed to parse started_at for %s: %w", rec.ID, err)
		}
		if rec.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, fmt.Errorf("failed to parse finished_at for %s: %w", rec.ID, err)
		}

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycles: %w", err)
	}

	return records, nil
}
