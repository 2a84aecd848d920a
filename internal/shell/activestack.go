package shell

import (
	"log"

	"github.com/scottjenson/xe-darc/internal/store"
)

// The active-tab stack is the per-space most-recently-activated ordering of
// tab ids, used for activation, "go back", and the previous-tab shortcut.
// It is an index over ids that may be stale; consumers validate against the
// live tab list before trusting an entry.

// Activate makes tabID the active tab of the active space, moving it to the
// front of the recency order, and stamps its rendering resource as active.
// Returns the tab's document when it is known to the projection.
func (s *Shell) Activate(tabID string) (store.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.p.activeTab = tabID

	if sp, ok := s.p.spaces[s.p.activeSpace]; ok {
		sp.activeTabsOrder = moveToFront(sp.activeTabsOrder, tabID)
	}

	s.touchFrameLocked(tabID)

	doc, ok := s.p.docs[tabID]
	if !ok {
		return store.Document{}, false
	}
	return doc.Clone(), true
}

// moveToFront puts id first in order, dropping any other occurrence.
func moveToFront(order []string, id string) []string {
	if len(order) > 0 && order[0] == id {
		return order
	}
	out := make([]string, 0, len(order)+1)
	out = append(out, id)
	for _, existing := range order {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

// removeActiveLocked handles the disappearance of the active tab: it prunes
// the id from the active space's recency order and promotes the entry at
// the vacated position, falling back toward the front. Callers hold s.mu.
func (s *Shell) removeActiveLocked(previousID string) {
	sp, ok := s.p.spaces[s.p.activeSpace]
	if !ok || len(sp.activeTabsOrder) == 0 {
		return
	}

	// Track the highest index the id was removed from; duplicates should
	// not happen, but if they do the largest index decides the fallback.
	removedAt := 1
	kept := make([]string, 0, len(sp.activeTabsOrder))
	for i, id := range sp.activeTabsOrder {
		if id == previousID {
			if i > removedAt {
				removedAt = i
			}
			continue
		}
		kept = append(kept, id)
	}
	sp.activeTabsOrder = kept

	next := removedAt - 1
	if next >= len(kept) {
		next = len(kept) - 1
	}
	if next < 0 {
		s.p.activeTab = ""
		return
	}
	s.p.activeTab = kept[next]
}

// Previous switches to the previously active tab of the active space.
// Returns false when there is no usable previous entry; when the candidate
// id no longer resolves to a live tab the order is pruned so a retry can
// succeed.
func (s *Shell) Previous() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.p.spaces[s.p.activeSpace]
	if !ok || len(sp.activeTabsOrder) < 2 {
		return false
	}

	previousID := sp.activeTabsOrder[1]
	if !sp.tabExists(previousID) {
		log.Printf("shell: previous tab %s is stale, pruning order", previousID)
		pruned := sp.activeTabsOrder[:0]
		for _, id := range sp.activeTabsOrder {
			if sp.tabExists(id) {
				pruned = append(pruned, id)
			}
		}
		sp.activeTabsOrder = pruned
		return false
	}

	sp.activeTabsOrder = sp.activeTabsOrder[1:]
	s.p.activeTab = previousID
	s.touchFrameLocked(previousID)
	return true
}
