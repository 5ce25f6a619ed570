package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Fingerprint represents a persisted prefix-cache fingerprint record:
// hit statistics for a request fingerprint whose KV tensors themselves
// are never persisted, only their existence and size.
type Fingerprint struct {
	Hash       string
	TokenCount int64
	FirstSeen  string
	LastSeen   string
	HitCount   int64
}

// UpsertFingerprint inserts a new fingerprint or, if the hash already
// exists, increments its hit_count and updates last_seen. It implements
// cache.Store.
func (s *Store) UpsertFingerprint(hash string, tokenCount int) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.writer.Exec(`
		INSERT INTO fingerprints (hash, token_count, first_seen, last_seen, hit_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(hash) DO UPDATE SET
			last_seen = excluded.last_seen,
			hit_count = fingerprints.hit_count + 1`,
		hash, tokenCount, now, now,
	)
	if err != nil {
		return fmt.Errorf("store: upsert fingerprint: %w", err)
	}
	return nil
}

// GetFingerprint returns the token count and hit count recorded for
// hash. It implements cache.Store.
func (s *Store) GetFingerprint(hash string) (tokenCount int, hitCount int, err error) {
	var tc, hc int64
	err = s.reader.QueryRow(`
		SELECT token_count, hit_count FROM fingerprints WHERE hash = ?`, hash,
	).Scan(&tc, &hc)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, 0, err
		}
		return 0, 0, fmt.Errorf("store: get fingerprint %s: %w", hash, err)
	}
	return int(tc), int(hc), nil
}

// ListFingerprints returns all fingerprints ordered by hit_count descending.
func (s *Store) ListFingerprints() ([]*Fingerprint, error) {
	rows, err := s.reader.Query(`
		SELECT hash, token_count, first_seen, last_seen, hit_count
		FROM fingerprints
		ORDER BY hit_count DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list fingerprints: %w", err)
	}
	defer rows.Close()

	var results []*Fingerprint
	for rows.Next() {
		f := &Fingerprint{}
		if err := rows.Scan(
			&f.Hash, &f.TokenCount, &f.FirstSeen, &f.LastSeen, &f.HitCount,
		); err != nil {
			return nil, fmt.Errorf("store: scan fingerprint row: %w", err)
		}
		results = append(results, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list fingerprints iteration: %w", err)
	}
	return results, nil
}
