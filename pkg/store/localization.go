package store

import (
	"context"
	"database/sql"
	"fmt"
)

// LocEntry is one parsed CK3 localization line (spec.md §4.6).
type LocEntry struct {
	ContentHash string
	Language    string
	Key         string
	Version     int
	RawValue    string
	PlainValue  string
	Line        int
}

// ReplaceLocEntries deletes every localization entry previously attributed
// to contentHash and inserts the freshly parsed set, mirroring the
// delete-then-insert shape used for symbols/refs.
func (s *Store) ReplaceLocEntries(ctx context.Context, contentHash string, entries []LocEntry) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM localization_entries WHERE content_hash = ?`, contentHash); err != nil {
			return fmt.Errorf("store: delete loc entries for %s: %w", contentHash, err)
		}

		ins, err := tx.PrepareContext(ctx, `
			INSERT INTO localization_entries (content_hash, language, key, version, raw_value, plain_value, line)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("store: prepare loc insert: %w", err)
		}
		defer ins.Close()

		for _, e := range entries {
			if _, err := ins.ExecContext(ctx, contentHash, e.Language, e.Key, e.Version, e.RawValue, e.PlainValue, e.Line); err != nil {
				return fmt.Errorf("store: insert loc entry %s: %w", e.Key, err)
			}
		}
		return nil
	})
}

// GetLocEntry looks up the localization value for key in language.
func (s *Store) GetLocEntry(ctx context.Context, language, key string) (LocEntry, error) {
	var e LocEntry
	e.Language, e.Key = language, key
	err := s.db.QueryRowContext(ctx, `
		SELECT content_hash, version, raw_value, plain_value, line
		FROM localization_entries WHERE language = ? AND key = ?
		ORDER BY id DESC LIMIT 1`, language, key,
	).Scan(&e.ContentHash, &e.Version, &e.RawValue, &e.PlainValue, &e.Line)
	if err == sql.ErrNoRows {
		return LocEntry{}, fmt.Errorf("store: loc entry %s/%s: %w", language, key, errNotFound)
	}
	if err != nil {
		return LocEntry{}, fmt.Errorf("store: get loc entry %s/%s: %w", language, key, err)
	}
	return e, nil
}
