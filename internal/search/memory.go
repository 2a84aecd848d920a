package search

import (
	"sort"
	"strings"
	"sync"
)

// Memory is a substring-match fallback used when no Meilisearch server is
// configured. Good enough for the few thousand documents a shell holds.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

// Healthy always returns true; the map cannot go away.
func (m *Memory) Healthy() bool { return true }

// Index adds or updates one record.
func (m *Memory) Index(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

// Delete removes one record.
func (m *Memory) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

// Search matches the query case-insensitively against title, name, and URL.
// Title matches rank before URL-only matches, then by id for stable output.
func (m *Memory) Search(q Query) ([]Result, int, error) {
	text := strings.ToLower(strings.TrimSpace(q.Text))
	if text == "" {
		return nil, 0, nil
	}

	m.mu.RLock()
	type scored struct {
		result Result
		score  int
	}
	var hits []scored
	for _, rec := range m.records {
		if q.FilterKind != "" && rec.Kind != q.FilterKind {
			continue
		}
		if q.FilterSpaceID != "" && rec.SpaceID != q.FilterSpaceID {
			continue
		}
		score := 0
		if strings.Contains(strings.ToLower(rec.Title), text) || strings.Contains(strings.ToLower(rec.Name), text) {
			score = 2
		} else if strings.Contains(strings.ToLower(rec.URL), text) {
			score = 1
		}
		if score == 0 {
			continue
		}
		title := rec.Title
		if title == "" {
			title = rec.Name
		}
		if title == "" {
			title = rec.URL
		}
		hits = append(hits, scored{
			result: Result{ID: rec.ID, Kind: rec.Kind, Title: title, URL: rec.URL, SpaceID: rec.SpaceID},
			score:  score,
		})
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].result.ID < hits[j].result.ID
	})

	total := len(hits)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	end := offset + limit
	if end > total {
		end = total
	}

	results := make([]Result, 0, end-offset)
	for _, hit := range hits[offset:end] {
		results = append(results, hit.result)
	}
	return results, total, nil
}
