package shell

import (
	"context"
	"log"
	"sort"
	"time"
)

// RenderContext is a live rendering resource for one tab. The browser
// chrome owns the real object; the shell only references it, releases it on
// hibernation, and can recreate it through the frame factory.
type RenderContext interface {
	Navigate(url string) error
	ReadPage(ctx context.Context, textOnly bool) (string, error)
	Reload() error
	Release()
}

// FrameFactory recreates a rendering context for a tab, typically after the
// previous one was hibernated.
type FrameFactory func(tabID, url string) (RenderContext, error)

// Frame is the registry entry for one tab's rendering resource.
type Frame struct {
	Ctx        RenderContext // nil while hibernated
	Active     int64         // last-active, epoch millis
	Hibernated int64         // set when the context was evicted
}

// RegisterFrame records a live rendering context for a tab.
func (s *Shell) RegisterFrame(tabID string, rc RenderContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[tabID] = &Frame{Ctx: rc, Active: s.millis()}
}

// FrameFor returns the tab's live rendering context, recreating one through
// the frame factory when the tab was hibernated.
func (s *Shell) FrameFor(tabID string) (RenderContext, error) {
	s.mu.Lock()
	frame := s.frames[tabID]
	if frame != nil && frame.Ctx != nil {
		rc := frame.Ctx
		s.mu.Unlock()
		return rc, nil
	}
	doc, known := s.p.docs[tabID]
	factory := s.newFrame
	s.mu.Unlock()

	if factory == nil || !known {
		return nil, nil
	}
	rc, err := factory(tabID, doc.URL)
	if err != nil {
		return nil, err
	}
	s.RegisterFrame(tabID, rc)
	return rc, nil
}

// touchFrameLocked stamps the tab's rendering resource as just used.
func (s *Shell) touchFrameLocked(tabID string) {
	if frame, ok := s.frames[tabID]; ok {
		frame.Active = s.millis()
	}
}

// Hibernate releases the tab's rendering resource, keeping its document.
// Hibernating an already-hibernated tab is a no-op.
func (s *Shell) Hibernate(tabID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hibernateLocked(tabID)
}

func (s *Shell) hibernateLocked(tabID string) {
	frame, ok := s.frames[tabID]
	if !ok || frame.Ctx == nil {
		return
	}
	frame.Ctx.Release()
	frame.Ctx = nil
	frame.Hibernated = s.millis()
}

// releaseFrameLocked drops a rendering context without marking the tab as
// hibernated, e.g. when the tab is being closed.
func (s *Shell) releaseFrameLocked(tabID string) {
	frame, ok := s.frames[tabID]
	if !ok || frame.Ctx == nil {
		return
	}
	frame.Ctx.Release()
	frame.Ctx = nil
}

// HibernateOthers evicts every unpinned rendering resource except the one
// to keep.
func (s *Shell) HibernateOthers(keepTabID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tabID := range s.frames {
		if tabID == keepTabID {
			continue
		}
		if doc, ok := s.p.docs[tabID]; ok && doc.Pinned {
			continue
		}
		s.hibernateLocked(tabID)
	}
}

// RunHibernation sweeps the frame registry on a fixed timer until ctx ends.
func (s *Shell) RunHibernation(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepFrames()
		}
	}
}

// sweepFrames evicts rendering resources that are neither pinned nor
// active and are either idle beyond the age threshold or beyond the rank
// threshold among recently-active tabs. Pin and active status are checked
// here, at eviction time, because both can change between ticks.
func (s *Shell) sweepFrames() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.millis()
	type candidate struct {
		id     string
		active int64
	}
	var candidates []candidate
	for tabID, frame := range s.frames {
		if frame.Ctx == nil {
			continue // already hibernated
		}
		if doc, ok := s.p.docs[tabID]; ok && doc.Pinned {
			continue
		}
		if s.isActiveTabLocked(tabID) {
			continue
		}
		candidates = append(candidates, candidate{id: tabID, active: frame.Active})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].active > candidates[j].active })

	for rank, c := range candidates {
		idle := time.Duration(now-c.active) * time.Millisecond
		switch {
		case idle > hibernateMaxIdle:
			log.Printf("shell: hibernating %s, idle %s", c.id, idle.Truncate(time.Minute))
			s.hibernateLocked(c.id)
		case rank >= hibernateMaxLive:
			log.Printf("shell: hibernating %s, rank %d among live frames", c.id, rank)
			s.hibernateLocked(c.id)
		}
	}
}

// isActiveTabLocked reports whether the tab is the current tab of its
// space: the globally active tab, or the head of its space's recency order.
func (s *Shell) isActiveTabLocked(tabID string) bool {
	if s.p.activeTab == tabID {
		return true
	}
	doc, ok := s.p.docs[tabID]
	if !ok {
		return false
	}
	sp, ok := s.p.spaces[doc.SpaceID]
	return ok && len(sp.activeTabsOrder) > 0 && sp.activeTabsOrder[0] == tabID
}

// FrameState reports a tab's registry entry. Exposed for the chrome layer.
func (s *Shell) FrameState(tabID string) (live bool, active, hibernated int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame, ok := s.frames[tabID]
	if !ok {
		return false, 0, 0
	}
	return frame.Ctx != nil, frame.Active, frame.Hibernated
}
