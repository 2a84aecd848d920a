package shell

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/scottjenson/xe-darc/internal/attach"
	"github.com/scottjenson/xe-darc/internal/store"
	"github.com/scottjenson/xe-darc/internal/util"
)

// ScreenshotStore offloads screenshot bytes to an external blob store and
// returns a resolvable URL for them.
type ScreenshotStore interface {
	PutScreenshot(ctx context.Context, tabID string, data []byte, contentType string) (string, error)
}

// NewTabOptions controls tab creation.
type NewTabOptions struct {
	URL      string
	Title    string
	Opener   string
	Preview  bool
	Lightbox bool
	Pinned   bool
	Focus    bool
}

// TabPatch is a partial tab update. Nil pointers leave fields untouched; a
// pointer to the empty string clears the field.
type TabPatch struct {
	Canvas     map[string]any
	Favicon    *string
	Title      *string
	URL        *string
	Preview    *bool
	Lightbox   *bool
	Screenshot *string
}

func faviconURL(pageURL string) string {
	return "https://t1.gstatic.com/faviconV2?client=SOCIAL&type=FAVICON&fallback_opts=TYPE,SIZE,URL&url=" +
		url.QueryEscape(pageURL) + "&size=64"
}

// NewTab creates a tab document in the given space. Regular tabs are
// inserted into the projection optimistically so the UI does not wait for
// the change feed; preview and lightbox tabs are only persisted.
func (s *Shell) NewTab(ctx context.Context, spaceID string, opts NewTabOptions) (store.Document, error) {
	now := s.millis()
	tab := store.Document{
		ID:       util.NewID("tab"),
		Kind:     store.KindTab,
		SpaceID:  spaceID,
		URL:      opts.URL,
		Title:    opts.Title,
		Opener:   opts.Opener,
		Preview:  opts.Preview,
		Lightbox: opts.Lightbox,
		Pinned:   opts.Pinned,
		Order:    float64(now),
		Created:  now,
		Modified: now,
	}
	if tab.URL == "" {
		tab.URL = "about:newtab"
		tab.Title = "New Tab"
	} else {
		tab.Favicon = faviconURL(tab.URL)
	}
	if opts.Preview {
		tab.Archive = store.ArchivePreview
	}

	ephemeral := opts.Preview || opts.Lightbox
	if !ephemeral {
		s.mu.Lock()
		sp := s.p.ensureSpace(spaceID)
		sp.tabs = append(sp.tabs, tab)
		s.p.docs[tab.ID] = tab
		s.mu.Unlock()
	}
	if opts.Focus && !ephemeral {
		s.Activate(tab.ID)
	}

	rev, err := s.store.Put(ctx, tab)
	if err != nil {
		return tab, fmt.Errorf("persist new tab: %w", err)
	}
	tab.Rev = rev
	return tab, nil
}

// CloseTab archives the tab and any preview tabs it spawned, releases
// their rendering resources, and promotes the next tab when the closed one
// was active.
func (s *Shell) CloseTab(ctx context.Context, spaceID, tabID string) error {
	now := s.millis()

	s.mu.Lock()
	var batch []store.Document
	if group, ok := s.p.previews[tabID]; ok {
		for _, preview := range group.tabs {
			s.releaseFrameLocked(preview.ID)
			archived := preview.Clone()
			archived.Archive = store.ArchiveClosed
			archived.Modified = now
			batch = append(batch, archived)
		}
	}
	if tab, ok := s.p.docs[tabID]; ok {
		archived := tab.Clone()
		archived.Archive = store.ArchiveClosed
		archived.Modified = now
		batch = append(batch, archived)
	}
	s.releaseFrameLocked(tabID)

	if s.p.activeTab == tabID {
		s.removeActiveLocked(tabID)
	} else if sp, ok := s.p.spaces[spaceID]; ok {
		sp.activeTabsOrder = withoutID(sp.activeTabsOrder, tabID)
	}
	s.mu.Unlock()

	if len(batch) == 0 {
		return fmt.Errorf("close tab %s: %w", tabID, store.ErrNotFound)
	}
	return s.writeBatch(ctx, "close tab", batch)
}

// RestoreClosedTab moves a closed tab back into its space's live list and
// activates it.
func (s *Shell) RestoreClosedTab(ctx context.Context, tabID string) error {
	s.mu.Lock()
	tab, ok := s.p.docs[tabID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("restore tab %s: %w", tabID, store.ErrNotFound)
	}

	restored := tab.Clone()
	restored.Archive = store.ArchiveNone
	restored.Modified = s.millis()
	if err := s.writeBatch(ctx, "restore tab", []store.Document{restored}); err != nil {
		return err
	}
	s.Activate(tabID)
	return nil
}

// UpdateTab applies a partial update to a tab document. Screenshot data
// URLs become binary attachments, offloaded to the blob store when one is
// configured.
func (s *Shell) UpdateTab(ctx context.Context, tabID string, patch TabPatch) error {
	s.mu.Lock()
	tab, ok := s.p.docs[tabID]
	s.mu.Unlock()
	if !ok {
		var err error
		tab, err = s.store.Get(ctx, tabID)
		if err != nil {
			return fmt.Errorf("update tab %s: %w", tabID, err)
		}
	}

	updated := tab.Clone()
	changed := false

	if patch.Canvas != nil {
		if updated.Canvas == nil {
			updated.Canvas = make(map[string]any, len(patch.Canvas))
		}
		for key, value := range patch.Canvas {
			updated.Canvas[key] = value
		}
		changed = true
	}
	if patch.Favicon != nil && *patch.Favicon != updated.Favicon {
		updated.Favicon = *patch.Favicon
		changed = true
	}
	if patch.Title != nil && *patch.Title != updated.Title {
		updated.Title = *patch.Title
		changed = true
	}
	if patch.URL != nil && *patch.URL != updated.URL {
		updated.URL = *patch.URL
		changed = true
	}
	if patch.Lightbox != nil {
		updated.Lightbox = *patch.Lightbox
		changed = true
	}
	if patch.Preview != nil {
		updated.Preview = *patch.Preview
		if updated.Preview {
			updated.Archive = store.ArchivePreview
		} else {
			updated.Archive = store.ArchiveNone
		}
		changed = true
	}
	if patch.Screenshot != nil {
		if err := s.applyScreenshot(ctx, &updated, *patch.Screenshot); err != nil {
			return err
		}
		changed = true
	}

	if !changed {
		return nil
	}
	updated.Modified = s.millis()
	if _, err := s.store.Put(ctx, updated); err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Printf("shell: update tab %s lost a write race, dropping", tabID)
			return nil
		}
		return fmt.Errorf("update tab %s: %w", tabID, err)
	}
	return nil
}

func (s *Shell) applyScreenshot(ctx context.Context, tab *store.Document, screenshot string) error {
	switch {
	case strings.HasPrefix(screenshot, "data:"):
		data, contentType, err := attach.DecodeDataURL(screenshot)
		if err != nil {
			return fmt.Errorf("decode screenshot for %s: %w", tab.ID, err)
		}
		if s.blobs != nil {
			blobURL, err := s.blobs.PutScreenshot(ctx, tab.ID, data, contentType)
			if err != nil {
				return fmt.Errorf("store screenshot for %s: %w", tab.ID, err)
			}
			tab.Screenshot = blobURL
			return nil
		}
		// Inline attachment: refetch with bodies so sibling attachments
		// survive the write.
		full, err := s.store.Get(ctx, tab.ID, store.WithAttachments())
		if err == nil {
			tab.Attachments = full.Attachments
			tab.Rev = full.Rev
		}
		if tab.Attachments == nil {
			tab.Attachments = make(map[string]store.Attachment)
		}
		tab.Attachments["screenshot"] = store.Attachment{ContentType: contentType, Data: data}
		tab.Screenshot = attach.URLFor(tab.ID, "screenshot")
	case screenshot == "":
		delete(tab.Attachments, "screenshot")
		if len(tab.Attachments) == 0 {
			tab.Attachments = nil
		}
		tab.Screenshot = ""
	default:
		// External URL or an already-resolved attachment reference.
		tab.Screenshot = screenshot
	}
	return nil
}

// Pin sets a tab's pinned flag. Pinned tabs are excluded from hibernation.
func (s *Shell) Pin(ctx context.Context, tabID string, pinned bool) error {
	s.mu.Lock()
	tab, ok := s.p.docs[tabID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("pin tab %s: %w", tabID, store.ErrNotFound)
	}
	updated := tab.Clone()
	updated.Pinned = pinned
	updated.Modified = s.millis()
	return s.writeBatch(ctx, "pin tab", []store.Document{updated})
}

// Navigate points a tab at a new URL: directly on its live rendering
// context when one exists, else by updating the document so the navigation
// happens on re-activation.
func (s *Shell) Navigate(ctx context.Context, tabID, pageURL string) error {
	s.mu.Lock()
	frame := s.frames[tabID]
	var rc RenderContext
	if frame != nil {
		rc = frame.Ctx
	}
	tab, ok := s.p.docs[tabID]
	s.mu.Unlock()

	if rc != nil {
		return rc.Navigate(pageURL)
	}
	if !ok {
		return fmt.Errorf("navigate tab %s: %w", tabID, store.ErrNotFound)
	}
	updated := tab.Clone()
	updated.URL = pageURL
	updated.Modified = s.millis()
	return s.writeBatch(ctx, "navigate tab", []store.Document{updated})
}

// ReadPage extracts the rendered page content from a tab's live rendering
// context.
func (s *Shell) ReadPage(ctx context.Context, tabID string, textOnly bool) (string, error) {
	s.mu.Lock()
	frame := s.frames[tabID]
	var rc RenderContext
	if frame != nil {
		rc = frame.Ctx
	}
	s.mu.Unlock()
	if rc == nil {
		return "", fmt.Errorf("read page %s: frame not active", tabID)
	}
	return rc.ReadPage(ctx, textOnly)
}

// ReloadCurrentTab reloads the active tab's live rendering context, if any.
func (s *Shell) ReloadCurrentTab() error {
	s.mu.Lock()
	frame := s.frames[s.p.activeTab]
	var rc RenderContext
	if frame != nil {
		rc = frame.Ctx
	}
	s.mu.Unlock()
	if rc == nil {
		return nil
	}
	return rc.Reload()
}

// ClearClosedTabs marks every closed tab as deleted and empties the
// closed-tabs projection.
func (s *Shell) ClearClosedTabs(ctx context.Context) error {
	now := s.millis()
	s.mu.Lock()
	closed := s.p.closedTabs
	s.p.closedTabs = nil
	s.mu.Unlock()

	if len(closed) == 0 {
		return nil
	}
	batch := make([]store.Document, 0, len(closed))
	for _, tab := range closed {
		deleted := tab.Clone()
		deleted.Archive = store.ArchiveDeleted
		deleted.Modified = now
		batch = append(batch, deleted)
	}
	return s.writeBatch(ctx, "clear closed tabs", batch)
}

// NewSpace creates a space document plus its creation activity entry.
func (s *Shell) NewSpace(ctx context.Context) (store.Document, error) {
	s.mu.Lock()
	count := len(s.p.spaces)
	s.mu.Unlock()

	now := s.millis()
	id := util.NewID("space")
	spaceDoc := store.Document{
		ID:       id,
		Kind:     store.KindSpace,
		SpaceID:  id,
		Name:     fmt.Sprintf("Space %d", count+1),
		Color:    util.SpaceColors[count%len(util.SpaceColors)],
		Order:    float64(now),
		Created:  now,
		Modified: now,
	}
	rev, err := s.store.Put(ctx, spaceDoc)
	if err != nil {
		return spaceDoc, fmt.Errorf("create space: %w", err)
	}
	spaceDoc.Rev = rev

	activity := store.Document{
		ID:      util.NewID("activity"),
		Kind:    store.KindActivity,
		Archive: store.ArchiveHistory,
		Action:  "space_create",
		SpaceID: id,
		Name:    spaceDoc.Name,
		Created: now,
	}
	if _, err := s.store.Put(ctx, activity); err != nil {
		log.Printf("shell: record space_create activity: %v", err)
	}
	return spaceDoc, nil
}

// DeleteSpace archives a space and all of its tabs in the store, then drops
// the projection entry. Without the persisted archive the space would
// reappear on the next full refresh.
func (s *Shell) DeleteSpace(ctx context.Context, spaceID string) error {
	now := s.millis()

	s.mu.Lock()
	var batch []store.Document
	if doc, ok := s.p.docs[spaceID]; ok {
		archived := doc.Clone()
		archived.Archive = store.ArchiveDeleted
		archived.Modified = now
		batch = append(batch, archived)
	}
	for id, doc := range s.p.docs {
		if doc.Kind == store.KindTab && doc.SpaceID == spaceID {
			s.releaseFrameLocked(id)
			archived := doc.Clone()
			archived.Archive = store.ArchiveDeleted
			archived.Modified = now
			batch = append(batch, archived)
		}
	}
	delete(s.p.spaces, spaceID)
	s.p.orderSpaces()
	if s.p.activeSpace == spaceID {
		s.p.activeTab = ""
		if len(s.p.spaceOrder) > 0 {
			s.p.activeSpace = s.p.spaceOrder[0]
		} else {
			s.p.activeSpace = ""
		}
	}
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return s.writeBatch(ctx, "delete space", batch)
}

// EditSpace persists display changes (name, title, color, glyph, order) to
// a space document; the change feed folds the result back into the
// projection.
func (s *Shell) EditSpace(ctx context.Context, spaceID string, data store.Document) error {
	s.mu.Lock()
	existing, ok := s.p.docs[spaceID]
	s.mu.Unlock()
	if !ok {
		var err error
		existing, err = s.store.Get(ctx, spaceID)
		if err != nil {
			return fmt.Errorf("edit space %s: %w", spaceID, err)
		}
	}

	updated := existing.Clone()
	if data.Name != "" {
		updated.Name = data.Name
	}
	if data.Title != "" {
		updated.Title = data.Title
	}
	if data.Color != "" {
		updated.Color = data.Color
	}
	if data.Glyph != "" {
		updated.Glyph = data.Glyph
	}
	if data.Order != 0 {
		updated.Order = data.Order
	}
	updated.Modified = s.millis()
	return s.writeBatch(ctx, "edit space", []store.Document{updated})
}

// PreviousSpace activates the space before the current one in space order,
// focusing its first tab. Returns false at the first space.
func (s *Shell) PreviousSpace() bool { return s.stepSpace(-1) }

// NextSpace activates the space after the current one in space order,
// focusing its first tab. Returns false at the last space.
func (s *Shell) NextSpace() bool { return s.stepSpace(1) }

func (s *Shell) stepSpace(delta int) bool {
	s.mu.Lock()
	if len(s.p.spaceOrder) <= 1 {
		s.mu.Unlock()
		return false
	}
	current := -1
	for i, id := range s.p.spaceOrder {
		if id == s.p.activeSpace {
			current = i
			break
		}
	}
	target := current + delta
	if current < 0 || target < 0 || target >= len(s.p.spaceOrder) {
		s.mu.Unlock()
		return false
	}
	targetID := s.p.spaceOrder[target]
	sp, ok := s.p.spaces[targetID]
	if !ok {
		s.mu.Unlock()
		log.Printf("shell: space order references missing space %s", targetID)
		return false
	}
	s.p.activeSpace = targetID
	var firstTab string
	if len(sp.tabs) > 0 {
		firstTab = sp.tabs[0].ID
	} else {
		s.p.activeTab = ""
	}
	s.mu.Unlock()

	if firstTab != "" {
		s.Activate(firstTab)
	}
	return true
}

// LoadSampleData bulk-writes a sample document set and schedules a refresh.
func (s *Shell) LoadSampleData(ctx context.Context, docs []store.Document) error {
	if err := s.writeBatch(ctx, "load sample data", docs); err != nil {
		return err
	}
	s.Refresh("")
	return nil
}

// ClipboardHistory returns the newest clipboard entries, most recent first.
func (s *Shell) ClipboardHistory(ctx context.Context, limit int) ([]store.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.store.Query(ctx, store.Selector{
		Kind:        store.KindClipboard,
		NewestFirst: true,
		Limit:       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("clipboard history: %w", err)
	}
	return docs, nil
}

// DeleteClipboardEntry removes one clipboard entry from the store.
func (s *Shell) DeleteClipboardEntry(ctx context.Context, id string) error {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("delete clipboard entry %s: %w", id, err)
	}
	if err := s.store.Remove(ctx, doc); err != nil {
		return fmt.Errorf("delete clipboard entry %s: %w", id, err)
	}
	return nil
}

// writeBatch bulk-writes documents, logging and dropping per-document
// conflicts; only transport failures propagate.
func (s *Shell) writeBatch(ctx context.Context, op string, batch []store.Document) error {
	results, err := s.store.BulkWrite(ctx, batch)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, result := range results {
		if result.Err != nil {
			log.Printf("shell: %s %s: %v", op, result.ID, result.Err)
		}
	}
	return nil
}

func withoutID(order []string, id string) []string {
	out := order[:0]
	for _, existing := range order {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
