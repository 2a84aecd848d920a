package shell

import (
	"log"
	"reflect"

	"github.com/scottjenson/xe-darc/internal/search"
	"github.com/scottjenson/xe-darc/internal/store"
)

// consume applies the live change feed, one change at a time, in delivery
// order.
func (s *Shell) consume(feed *store.Feed) {
	for change := range feed.C() {
		s.applyChange(change)
	}
}

// applyChange merges one change into the projection and decides whether a
// scoped refresh is needed or a cheap in-place merge suffices.
func (s *Shell) applyChange(change store.Change) {
	s.mu.Lock()
	s.lastSeq = change.Seq

	if s.editing == change.ID {
		// An in-flight local edit must not be clobbered by the reflected
		// echo of its own write.
		s.mu.Unlock()
		return
	}

	old, hadOld := s.p.docs[change.ID]
	doc := change.Doc
	s.p.docs[change.ID] = doc

	var scopedRefresh string
	if !hadOld || old.Rev == "" || watchedFieldsDiffer(old, doc) {
		switch {
		case doc.SpaceID != "" && doc.Kind != store.KindSpace && doc.Kind != store.KindActivity:
			// Structural change to a tab-like document: the space's
			// projection needs a full rebuild (reordering, archiving,
			// space moves).
			scopedRefresh = doc.SpaceID
		case doc.Kind == store.KindSpace:
			s.p.mergeSpaceDoc(doc)
			s.p.orderSpaces()
		default:
			log.Printf("shell: unhandled change class for %s (kind %q)", change.ID, doc.Kind)
		}
	}
	s.mu.Unlock()

	if scopedRefresh != "" {
		s.Refresh(scopedRefresh)
	}
	s.updateIndex(doc)
}

// watchedFieldsDiffer compares the fixed watch-list of fields whose change
// requires more than storing the new body: canvas, pinned, and the
// canonical sort-key fields.
func watchedFieldsDiffer(old, new store.Document) bool {
	switch {
	case !reflect.DeepEqual(old.Canvas, new.Canvas):
		return true
	case old.Pinned != new.Pinned:
		return true
	case old.Archive != new.Archive:
		return true
	case old.SpaceID != new.SpaceID:
		return true
	case old.Kind != new.Kind:
		return true
	case old.Order != new.Order:
		return true
	}
	return old.Deleted != new.Deleted
}

// updateIndex keeps the search index in step with the change feed: live
// tabs and spaces stay indexed, everything else is evicted.
func (s *Shell) updateIndex(doc store.Document) {
	if s.search == nil {
		return
	}
	indexable := doc.Kind == store.KindTab || doc.Kind == store.KindSpace
	if !indexable {
		return
	}
	if doc.Deleted || doc.Archive != store.ArchiveNone {
		s.search.Delete(doc.ID)
		return
	}
	s.search.Index(search.RecordFromDoc(doc))
}
