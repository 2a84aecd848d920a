package shell

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/scottjenson/xe-darc/internal/search"
	"github.com/scottjenson/xe-darc/internal/seed"
	"github.com/scottjenson/xe-darc/internal/store"
)

const refreshQueryTimeout = 30 * time.Second

// doRefresh rebuilds the projection from a store query, for one space or
// for all of them. Runs only via the coalescer, so at most one pass is in
// flight per throttle window.
func (s *Shell) doRefresh(spaceID string) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshQueryTimeout)
	defer cancel()

	s.mu.Lock()
	initial := s.initialLoad
	s.mu.Unlock()

	// After the first pass only ids are needed; existing bodies are reused
	// and the change feed is the source of truth for body mutations.
	docs, err := s.store.Query(ctx, store.Selector{
		SpaceID: spaceID,
		IDsOnly: !initial,
		Limit:   queryPageCap,
	})
	if err != nil {
		// Degrade to stale-but-consistent state rather than propagate.
		log.Printf("shell: refresh query failed: %v", err)
		return
	}
	if len(docs) > queryCapWarn {
		log.Printf("shell: query returned %d documents, approaching the %d page cap; needs paging and partition support", len(docs), queryPageCap)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	activeTabExists := false
	closed := make([]store.Document, 0)

	// Build replacement tab lists aside and swap them in whole, so a space's
	// tabs never pass through an intermediate empty state.
	newSpaceTabs := make(map[string][]store.Document)
	if spaceID != "" {
		s.p.ensureSpace(spaceID)
		newSpaceTabs[spaceID] = []store.Document{}
	}

	// Clear preview groups up front; previews removed from the store must
	// not linger as stale UI state.
	for _, group := range s.p.previews {
		group.lightbox = ""
		group.tabs = nil
	}

	for _, queried := range docs {
		var doc store.Document
		if initial {
			s.p.docs[queried.ID] = queried
			doc = queried
		} else {
			known, ok := s.p.docs[queried.ID]
			if !ok {
				log.Printf("shell: refresh found unknown document %s, skipping", queried.ID)
				continue
			}
			doc = known
		}

		switch doc.Kind {
		case store.KindSpace:
			s.p.mergeSpaceDoc(doc)
			if initial && s.search != nil {
				s.search.Index(search.RecordFromDoc(doc))
			}

		case store.KindTab:
			s.p.ensureSpace(doc.SpaceID)
			if _, ok := newSpaceTabs[doc.SpaceID]; !ok {
				newSpaceTabs[doc.SpaceID] = []store.Document{}
			}

			if doc.Archive != store.ArchiveNone {
				if doc.Archive == store.ArchiveClosed {
					closed = append(closed, doc)
				}
				continue
			}

			if s.p.activeTab == "" && doc.SpaceID == s.p.activeSpace {
				s.p.activeTab = doc.ID
			}
			if doc.ID == s.p.activeTab {
				activeTabExists = true
			}

			if doc.Preview || doc.Lightbox {
				group := s.p.ensurePreview(doc.Opener)
				group.tabs = append(group.tabs, doc)
				if doc.Lightbox {
					group.lightbox = doc.ID
				}
				continue
			}
			newSpaceTabs[doc.SpaceID] = append(newSpaceTabs[doc.SpaceID], doc)
			if initial && s.search != nil {
				s.search.Index(search.RecordFromDoc(doc))
			}
		}
	}

	for id, tabs := range newSpaceTabs {
		s.p.spaces[id].tabs = tabs
	}

	if s.p.activeTab != "" && !activeTabExists {
		if sp, ok := s.p.spaces[s.p.activeSpace]; ok && len(sp.activeTabsOrder) > 0 {
			s.removeActiveLocked(s.p.activeTab)
		}
	}

	sort.Slice(closed, func(i, j int) bool { return closed[i].Modified > closed[j].Modified })
	s.p.closedTabs = closed
	s.p.orderSpaces()

	if s.p.activeSpace == "" && len(s.p.spaceOrder) > 0 {
		s.p.activeSpace = defaultActiveSpace(s.p.spaces, s.p.spaceOrder)
	}

	s.initialLoad = false
}

// defaultActiveSpace picks the space to activate when none is set: the
// well-known default space when present, else the first in order.
func defaultActiveSpace(spaces map[string]*space, order []string) string {
	if _, ok := spaces[seed.DefaultSpaceID]; ok {
		return seed.DefaultSpaceID
	}
	return order[0]
}
