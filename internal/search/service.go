package search

import (
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to the
// in-memory index. Both indexes are kept in step so a Meilisearch outage
// degrades to substring search instead of no search.
type Service struct {
	meili  *Meili
	memory *Memory
}

// NewService creates a search service. meili may be nil when no server is
// configured.
func NewService(meili *Meili) *Service {
	return &Service{meili: meili, memory: NewMemory()}
}

// Search tries Meilisearch if healthy, otherwise the in-memory index.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to memory: %v", err)
	}

	results, total, err := s.memory.Search(q)
	if err != nil {
		log.Printf("search: memory search: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Index adds a record to both indexes. The Meilisearch write is
// fire-and-forget; indexing must never block reconciliation.
func (s *Service) Index(rec Record) {
	if err := s.memory.Index(rec); err != nil {
		log.Printf("search: index %s: %v", rec.ID, err)
	}
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.Index(rec); err != nil {
			log.Printf("search: index %s: %v", rec.ID, err)
		}
	}()
}

// Delete removes a record from both indexes (fire-and-forget to Meilisearch).
func (s *Service) Delete(id string) {
	if err := s.memory.Delete(id); err != nil {
		log.Printf("search: delete %s: %v", id, err)
	}
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.Delete(id); err != nil {
			log.Printf("search: delete %s: %v", id, err)
		}
	}()
}

// Reindex bulk-loads records, used after bootstrap when Meilisearch is up.
func (s *Service) Reindex(recs []Record) {
	for _, rec := range recs {
		if err := s.memory.Index(rec); err != nil {
			log.Printf("search: reindex %s: %v", rec.ID, err)
		}
	}
	if s.meili == nil || !s.meili.Healthy() || len(recs) == 0 {
		return
	}
	if err := s.meili.IndexAll(recs); err != nil {
		log.Printf("search: reindex: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
