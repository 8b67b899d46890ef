package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/blackwell-systems/rpmannotate/internal/errors"
	"github.com/blackwell-systems/rpmannotate/internal/snapshot"
)

// Load returns the stored snapshot, or ErrNoSnapshot if none was ever saved.
func (d *DB) Load(ctx context.Context) (snapshot.Snapshot, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `SELECT package_count FROM snapshot_meta WHERE id = 1`).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodePersistence, "read snapshot metadata", err)
	}

	rows, err := d.db.QueryContext(ctx, `SELECT name, version_release FROM packages ORDER BY name`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodePersistence, "query packages", err)
	}
	defer rows.Close()

	snap := make(snapshot.Snapshot, count)
	for rows.Next() {
		var name, vr string
		if err := rows.Scan(&name, &vr); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodePersistence, "scan package row", err)
		}
		snap[name] = vr
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodePersistence, "iterate packages", err)
	}

	return snap, nil
}

// Save replaces the stored snapshot with s in a single transaction.
func (d *DB) Save(ctx context.Context, s snapshot.Snapshot) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodePersistence, "begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM packages`); err != nil {
		return apperrors.Wrap(apperrors.ErrCodePersistence, "clear packages", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO packages (name, version_release) VALUES (?, ?)`)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodePersistence, "prepare insert", err)
	}
	defer stmt.Close()

	for _, name := range s.Names() {
		if _, err := stmt.ExecContext(ctx, name, s[name]); err != nil {
			return apperrors.Wrap(apperrors.ErrCodePersistence, fmt.Sprintf("insert package %s", name), err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshot_meta (id, saved_at, package_count) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET saved_at = excluded.saved_at, package_count = excluded.package_count
	`, formatTime(time.Now()), len(s))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodePersistence, "update snapshot metadata", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrCodePersistence, "commit snapshot", err)
	}
	return nil
}

// SavedAt returns when the snapshot was last saved.
func (d *DB) SavedAt(ctx context.Context) (time.Time, error) {
	var raw string
	err := d.db.QueryRowContext(ctx, `SELECT saved_at FROM snapshot_meta WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNoSnapshot
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read snapshot metadata: %w", err)
	}
	return parseTime(raw)
}
