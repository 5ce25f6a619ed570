package store

import (
	"fmt"
	"time"
)

// Generation represents a single logged completion request.
type Generation struct {
	ID               string
	Timestamp        string
	Path             string
	Model            string
	Stream           bool
	PromptTokens     int64
	CompletionTokens int64
	CachedTokens     int64
	LatencyMs        int64
	StatusCode       int
	FinishReason     string
	CacheHit         bool
	ErrorMessage     string
	ToolCallCount    int64
}

// GenerationStats holds aggregate statistics for a range of generations.
type GenerationStats struct {
	TotalRequests    int64
	TotalPromptToks  int64
	TotalCompletToks int64
	TotalCachedToks  int64
	CacheHits        int64
	CacheMisses      int64
}

// InsertGeneration stores a new generation record. The caller is
// responsible for providing a unique ID (typically a UUID).
func (s *Store) InsertGeneration(g *Generation) error {
	streamInt, cacheHitInt := 0, 0
	if g.Stream {
		streamInt = 1
	}
	if g.CacheHit {
		cacheHitInt = 1
	}

	_, err := s.writer.Exec(`
		INSERT INTO generations (
			id, timestamp, path, model, stream,
			prompt_tokens, completion_tokens, cached_tokens,
			latency_ms, status_code, finish_reason, cache_hit,
			error_message, tool_call_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Timestamp, g.Path, g.Model, streamInt,
		g.PromptTokens, g.CompletionTokens, g.CachedTokens,
		g.LatencyMs, g.StatusCode, g.FinishReason, cacheHitInt,
		g.ErrorMessage, g.ToolCallCount,
	)
	if err != nil {
		return fmt.Errorf("store: insert generation: %w", err)
	}
	return nil
}

// GetGeneration retrieves a single generation record by its ID.
func (s *Store) GetGeneration(id string) (*Generation, error) {
	g := &Generation{}
	var streamInt, cacheHitInt int

	err := s.reader.QueryRow(`
		SELECT id, timestamp, path, model, stream,
		       prompt_tokens, completion_tokens, cached_tokens,
		       latency_ms, status_code, finish_reason, cache_hit,
		       error_message, tool_call_count
		FROM generations WHERE id = ?`, id,
	).Scan(
		&g.ID, &g.Timestamp, &g.Path, &g.Model, &streamInt,
		&g.PromptTokens, &g.CompletionTokens, &g.CachedTokens,
		&g.LatencyMs, &g.StatusCode, &g.FinishReason, &cacheHitInt,
		&g.ErrorMessage, &g.ToolCallCount,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get generation %s: %w", id, err)
	}

	g.Stream = streamInt != 0
	g.CacheHit = cacheHitInt != 0
	return g, nil
}

// ListGenerations returns a page of generations ordered by timestamp descending.
func (s *Store) ListGenerations(limit, offset int) ([]*Generation, error) {
	rows, err := s.reader.Query(`
		SELECT id, timestamp, path, model, stream,
		       prompt_tokens, completion_tokens, cached_tokens,
		       latency_ms, status_code, finish_reason, cache_hit,
		       error_message, tool_call_count
		FROM generations
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list generations: %w", err)
	}
	defer rows.Close()

	var results []*Generation
	for rows.Next() {
		g := &Generation{}
		var streamInt, cacheHitInt int
		if err := rows.Scan(
			&g.ID, &g.Timestamp, &g.Path, &g.Model, &streamInt,
			&g.PromptTokens, &g.CompletionTokens, &g.CachedTokens,
			&g.LatencyMs, &g.StatusCode, &g.FinishReason, &cacheHitInt,
			&g.ErrorMessage, &g.ToolCallCount,
		); err != nil {
			return nil, fmt.Errorf("store: scan generation row: %w", err)
		}
		g.Stream = streamInt != 0
		g.CacheHit = cacheHitInt != 0
		results = append(results, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list generations iteration: %w", err)
	}
	return results, nil
}

// GetGenerationStats computes aggregate statistics for all generations
// whose timestamp is >= since.
func (s *Store) GetGenerationStats(since time.Time) (*GenerationStats, error) {
	sinceStr := since.UTC().Format(time.RFC3339)
	stats := &GenerationStats{}

	err := s.reader.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0),
			COALESCE(SUM(cached_tokens), 0),
			COALESCE(SUM(CASE WHEN cache_hit = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN cache_hit = 0 THEN 1 ELSE 0 END), 0)
		FROM generations
		WHERE timestamp >= ?`, sinceStr,
	).Scan(
		&stats.TotalRequests,
		&stats.TotalPromptToks,
		&stats.TotalCompletToks,
		&stats.TotalCachedToks,
		&stats.CacheHits,
		&stats.CacheMisses,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get generation stats: %w", err)
	}

	return stats, nil
}
