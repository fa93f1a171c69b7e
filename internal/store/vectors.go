package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/zhouzirui/heartline/backend/internal/model/memory"
)

// Upsert stores or replaces a vector in a namespace.
func (s *Store) Upsert(ctx context.Context, rec memory.Record) error {
	if len(rec.Vector) == 0 {
		return fmt.Errorf("upsert %s: empty vector", rec.ID)
	}
	vectorJSON, err := json.Marshal(rec.Vector)
	if err != nil {
		return fmt.Errorf("marshal vector: %w", err)
	}
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO memories (id, namespace, vector, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Namespace, string(vectorJSON), string(metadataJSON), formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// Query returns the topK records of a namespace most similar to vector.
// Records whose metadata does not contain every filter pair are skipped.
// Similarity is cosine, computed in Go over the whole namespace.
func (s *Store) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]string) ([]memory.Match, error) {
	if topK <= 0 || len(vector) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, vector, metadata FROM memories WHERE namespace = ?", namespace)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var matches []memory.Match
	for rows.Next() {
		var id, vectorJSON, metadataJSON string
		if err := rows.Scan(&id, &vectorJSON, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}

		var stored []float32
		if err := json.Unmarshal([]byte(vectorJSON), &stored); err != nil {
			slog.Warn("skip malformed memory vector", "id", id, "error", err)
			continue
		}
		var metadata map[string]string
		if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
			slog.Warn("skip malformed memory metadata", "id", id, "error", err)
			continue
		}
		if !matchesFilter(metadata, filter) {
			continue
		}

		matches = append(matches, memory.Match{
			ID:       id,
			Score:    cosineSimilarity(vector, stored),
			Metadata: metadata,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func matchesFilter(metadata, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// cosineSimilarity returns 0 for vectors of different length or zero norm.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
