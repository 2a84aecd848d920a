package shell

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/scottjenson/xe-darc/internal/store"
)

// Bootstrap writes the seed document set. Seeds that conflict with existing
// documents are re-applied on top of the current revision, so customized
// documents with seed ids converge back to canonical seed content. A failed
// fetch-and-merge is logged and that one document skipped; it never aborts
// the batch.
func (s *Shell) Bootstrap(ctx context.Context, seeds []store.Document) error {
	results, err := s.store.BulkWrite(ctx, seeds)
	if err != nil {
		return fmt.Errorf("bootstrap bulk insert: %w", err)
	}

	byID := make(map[string]store.Document, len(seeds))
	for _, doc := range seeds {
		byID[doc.ID] = doc
	}

	var updates []store.Document
	for _, result := range results {
		if result.Err == nil {
			continue
		}
		if !errors.Is(result.Err, store.ErrConflict) {
			log.Printf("shell: bootstrap insert %s: %v", result.ID, result.Err)
			continue
		}
		seedDoc, ok := byID[result.ID]
		if !ok {
			continue
		}
		existing, err := s.store.Get(ctx, result.ID)
		if err != nil {
			log.Printf("shell: bootstrap fetch existing %s: %v", result.ID, err)
			continue
		}
		merged := seedDoc
		merged.Rev = existing.Rev
		updates = append(updates, merged)
	}

	if len(updates) > 0 {
		updateResults, err := s.store.BulkWrite(ctx, updates)
		if err != nil {
			log.Printf("shell: bootstrap update failed: %v", err)
			return nil
		}
		for _, result := range updateResults {
			if result.Err != nil {
				log.Printf("shell: bootstrap update %s: %v", result.ID, result.Err)
			}
		}
	}
	return nil
}
