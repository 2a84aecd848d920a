package shell

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/scottjenson/xe-darc/internal/store"
	"github.com/scottjenson/xe-darc/internal/util"
)

func TestNewTabPersistsAndProjectsOptimistically(t *testing.T) {
	s, st := newTestShell(t)
	putDocs(t, st, spaceDoc("space_a", 1))
	s.doRefresh("")

	tab, err := s.NewTab(context.Background(), "space_a", NewTabOptions{URL: "https://example.com", Title: "Example", Focus: true})
	if err != nil {
		t.Fatalf("NewTab failed: %v", err)
	}
	if tab.URL != "https://example.com" || tab.Kind != store.KindTab {
		t.Fatalf("tab fields wrong: %+v", tab)
	}
	if !strings.Contains(tab.Favicon, "faviconV2") {
		t.Fatalf("favicon not derived: %q", tab.Favicon)
	}

	// Optimistic insert: visible before any refresh or change-feed delivery.
	snap := s.Snapshot()
	found := false
	for _, sv := range snap.Spaces {
		for _, projected := range sv.Tabs {
			if projected.ID == tab.ID {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("new tab not projected optimistically")
	}
	if got := s.ActiveTab(); got != tab.ID {
		t.Fatalf("focused tab not activated: %q", got)
	}

	stored, err := st.Get(context.Background(), tab.ID)
	if err != nil {
		t.Fatalf("tab not persisted: %v", err)
	}
	if stored.SpaceID != "space_a" {
		t.Fatalf("persisted tab wrong: %+v", stored)
	}
}

func TestNewTabDefaultsToNewTabPage(t *testing.T) {
	s, st := newTestShell(t)
	putDocs(t, st, spaceDoc("space_a", 1))
	s.doRefresh("")

	tab, err := s.NewTab(context.Background(), "space_a", NewTabOptions{})
	if err != nil {
		t.Fatalf("NewTab failed: %v", err)
	}
	if tab.URL != "about:newtab" || tab.Title != "New Tab" || tab.Favicon != "" {
		t.Fatalf("default tab wrong: %+v", tab)
	}
}

func TestNewTabPreviewStaysOutOfProjection(t *testing.T) {
	s, st := newTestShell(t)
	putDocs(t, st, spaceDoc("space_a", 1))
	s.doRefresh("")

	preview, err := s.NewTab(context.Background(), "space_a", NewTabOptions{
		URL: "https://example.com", Opener: "tab_x", Preview: true, Focus: true,
	})
	if err != nil {
		t.Fatalf("NewTab failed: %v", err)
	}
	if preview.Archive != store.ArchivePreview {
		t.Fatalf("preview archive state: got %q", preview.Archive)
	}
	if got := s.ActiveTab(); got == preview.ID {
		t.Fatalf("preview tab must not take focus")
	}
	snap := s.Snapshot()
	for _, sv := range snap.Spaces {
		for _, projected := range sv.Tabs {
			if projected.ID == preview.ID {
				t.Fatalf("preview tab projected into the space tab list")
			}
		}
	}
}

func TestCloseTabArchivesAndPromotes(t *testing.T) {
	s, st := newTestShell(t)
	putDocs(t, st, spaceDoc("space_a", 1), tabDoc("tab_a", "space_a", 1), tabDoc("tab_b", "space_a", 2))
	s.doRefresh("")
	s.doRefresh("")
	s.Activate("tab_b")
	s.Activate("tab_a")

	rc := &fakeRenderContext{}
	s.RegisterFrame("tab_a", rc)

	if err := s.CloseTab(context.Background(), "space_a", "tab_a"); err != nil {
		t.Fatalf("CloseTab failed: %v", err)
	}
	if !rc.released {
		t.Fatalf("closed tab's frame not released")
	}
	if got := s.ActiveTab(); got != "tab_b" {
		t.Fatalf("active tab after close: got %q, want tab_b", got)
	}

	stored, err := st.Get(context.Background(), "tab_a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Archive != store.ArchiveClosed || stored.Modified == 0 {
		t.Fatalf("closed tab not archived: %+v", stored)
	}

	reflectChange(t, s, st, "tab_a")
	s.doRefresh("")
	snap := s.Snapshot()
	if len(snap.ClosedTabs) != 1 || snap.ClosedTabs[0].ID != "tab_a" {
		t.Fatalf("closed list wrong: %+v", snap.ClosedTabs)
	}
}

func TestCloseTabArchivesPreviewChildren(t *testing.T) {
	s, st := newTestShell(t)
	putDocs(t, st, spaceDoc("space_a", 1), tabDoc("tab_opener", "space_a", 1))
	s.doRefresh("")

	lightbox := tabDoc("tab_lightbox", "space_a", 2)
	lightbox.Lightbox = true
	lightbox.Opener = "tab_opener"
	putDocs(t, st, lightbox)
	reflectChange(t, s, st, "tab_lightbox")
	s.doRefresh("")

	if err := s.CloseTab(context.Background(), "space_a", "tab_opener"); err != nil {
		t.Fatalf("CloseTab failed: %v", err)
	}

	child, err := st.Get(context.Background(), "tab_lightbox")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if child.Archive != store.ArchiveClosed {
		t.Fatalf("preview child not archived with its opener: %+v", child)
	}
}

func TestCloseUnknownTabFails(t *testing.T) {
	s, st := newTestShell(t)
	putDocs(t, st, spaceDoc("space_a", 1))
	s.doRefresh("")

	err := s.CloseTab(context.Background(), "space_a", "tab_nope")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRestoreClosedTabReactivates(t *testing.T) {
	s, st := newTestShell(t)
	putDocs(t, st, spaceDoc("space_a", 1), tabDoc("tab_a", "space_a", 1))
	s.doRefresh("")
	s.doRefresh("")

	if err := s.CloseTab(context.Background(), "space_a", "tab_a"); err != nil {
		t.Fatalf("CloseTab failed: %v", err)
	}
	reflectChange(t, s, st, "tab_a")
	s.doRefresh("")

	if err := s.RestoreClosedTab(context.Background(), "tab_a"); err != nil {
		t.Fatalf("RestoreClosedTab failed: %v", err)
	}

	stored, err := st.Get(context.Background(), "tab_a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Archive != store.ArchiveNone {
		t.Fatalf("restored tab still archived: %q", stored.Archive)
	}
	if got := s.ActiveTab(); got != "tab_a" {
		t.Fatalf("restored tab not activated: %q", got)
	}
}

func TestClearClosedTabsMarksDeleted(t *testing.T) {
	s, st := newTestShell(t)
	putDocs(t, st, spaceDoc("space_a", 1), tabDoc("tab_a", "space_a", 1), tabDoc("tab_b", "space_a", 2))
	s.doRefresh("")
	if err := s.CloseTab(context.Background(), "space_a", "tab_a"); err != nil {
		t.Fatalf("CloseTab failed: %v", err)
	}
	reflectChange(t, s, st, "tab_a")
	s.doRefresh("")

	if err := s.ClearClosedTabs(context.Background()); err != nil {
		t.Fatalf("ClearClosedTabs failed: %v", err)
	}

	if got := len(s.Snapshot().ClosedTabs); got != 0 {
		t.Fatalf("closed list not emptied: %d entries", got)
	}
	stored, err := st.Get(context.Background(), "tab_a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Archive != store.ArchiveDeleted {
		t.Fatalf("cleared tab archive: got %q", stored.Archive)
	}
}

func TestUpdateTabMergesCanvas(t *testing.T) {
	s, st := newTestShell(t)
	tab := tabDoc("tab_a", "space_a", 1)
	tab.Canvas = map[string]any{"x": 1.0, "y": 2.0}
	putDocs(t, st, spaceDoc("space_a", 1), tab)
	s.doRefresh("")

	err := s.UpdateTab(context.Background(), "tab_a", TabPatch{Canvas: map[string]any{"y": 9.0, "z": 3.0}})
	if err != nil {
		t.Fatalf("UpdateTab failed: %v", err)
	}

	stored, err := st.Get(context.Background(), "tab_a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Canvas["x"] != 1.0 || stored.Canvas["y"] != 9.0 || stored.Canvas["z"] != 3.0 {
		t.Fatalf("canvas not merged: %+v", stored.Canvas)
	}
}

func TestUpdateTabStoresScreenshotAsAttachment(t *testing.T) {
	s, st := newTestShell(t)
	putDocs(t, st, spaceDoc("space_a", 1), tabDoc("tab_a", "space_a", 1))
	s.doRefresh("")

	payload := []byte{0x89, 0x50, 0x4e, 0x47}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(payload)
	shot := dataURL
	if err := s.UpdateTab(context.Background(), "tab_a", TabPatch{Screenshot: &shot}); err != nil {
		t.Fatalf("UpdateTab failed: %v", err)
	}

	stored, err := st.Get(context.Background(), "tab_a", store.WithAttachments())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	att, ok := stored.Attachments["screenshot"]
	if !ok {
		t.Fatalf("screenshot attachment missing")
	}
	if att.ContentType != "image/png" || len(att.Data) != len(payload) {
		t.Fatalf("attachment wrong: %+v", att)
	}
	if !strings.HasPrefix(stored.Screenshot, "attachment://") {
		t.Fatalf("screenshot field: got %q", stored.Screenshot)
	}
}

type captureBlobs struct {
	url string
}

func (c *captureBlobs) PutScreenshot(_ context.Context, tabID string, _ []byte, _ string) (string, error) {
	c.url = "https://blobs.local/" + tabID
	return c.url, nil
}

func TestUpdateTabOffloadsScreenshotToBlobStore(t *testing.T) {
	blobs := &captureBlobs{}
	s, st := newTestShell(t, WithScreenshotStore(blobs))
	putDocs(t, st, spaceDoc("space_a", 1), tabDoc("tab_a", "space_a", 1))
	s.doRefresh("")

	shot := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png"))
	if err := s.UpdateTab(context.Background(), "tab_a", TabPatch{Screenshot: &shot}); err != nil {
		t.Fatalf("UpdateTab failed: %v", err)
	}

	stored, err := st.Get(context.Background(), "tab_a", store.WithAttachments())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Screenshot != blobs.url {
		t.Fatalf("screenshot url: got %q, want %q", stored.Screenshot, blobs.url)
	}
	if len(stored.Attachments) != 0 {
		t.Fatalf("blob-offloaded screenshot still attached inline")
	}
}

func TestNewSpaceWritesActivityEntry(t *testing.T) {
	s, st := newTestShell(t)
	putDocs(t, st, spaceDoc("space_a", 1))
	s.doRefresh("")

	created, err := s.NewSpace(context.Background())
	if err != nil {
		t.Fatalf("NewSpace failed: %v", err)
	}
	if created.Kind != store.KindSpace || created.SpaceID != created.ID {
		t.Fatalf("space doc wrong: %+v", created)
	}
	if created.Color == "" || created.Name == "" {
		t.Fatalf("space display fields missing: %+v", created)
	}

	activities, err := st.Query(context.Background(), store.Selector{Kind: store.KindActivity})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(activities) != 1 {
		t.Fatalf("expected 1 activity entry, got %d", len(activities))
	}
	entry := activities[0]
	if entry.Action != "space_create" || entry.SpaceID != created.ID || entry.Archive != store.ArchiveHistory {
		t.Fatalf("activity entry wrong: %+v", entry)
	}
}

func TestDeleteSpacePersistsArchival(t *testing.T) {
	s, st := newTestShell(t)
	putDocs(t, st,
		spaceDoc("space_a", 1),
		spaceDoc("space_b", 2),
		tabDoc("tab_a1", "space_a", 1),
		tabDoc("tab_b1", "space_b", 1),
	)
	s.doRefresh("")
	s.doRefresh("")

	if err := s.DeleteSpace(context.Background(), "space_a"); err != nil {
		t.Fatalf("DeleteSpace failed: %v", err)
	}

	// The archive state is persisted, so a full rebuild cannot resurrect
	// the space.
	space, err := st.Get(context.Background(), "space_a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if space.Archive != store.ArchiveDeleted {
		t.Fatalf("space archive: got %q", space.Archive)
	}
	tab, err := st.Get(context.Background(), "tab_a1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if tab.Archive != store.ArchiveDeleted {
		t.Fatalf("tab archive: got %q", tab.Archive)
	}

	if got := s.ActiveSpace(); got != "space_b" {
		t.Fatalf("active space after delete: got %q", got)
	}

	s.mu.Lock()
	s.initialLoad = true
	s.p = newProjection()
	s.mu.Unlock()
	s.doRefresh("")
	for _, sv := range s.Snapshot().Spaces {
		if sv.ID == "space_a" {
			t.Fatalf("deleted space resurrected by full refresh")
		}
	}
}

func TestSpaceStepping(t *testing.T) {
	s, st := newTestShell(t)
	putDocs(t, st,
		spaceDoc("space_a", 1),
		spaceDoc("space_b", 2),
		tabDoc("tab_b1", "space_b", 1),
	)
	s.doRefresh("")
	s.doRefresh("")

	if got := s.ActiveSpace(); got != "space_a" {
		t.Fatalf("initial active space: got %q", got)
	}
	if !s.NextSpace() {
		t.Fatalf("NextSpace failed at first space")
	}
	if got := s.ActiveSpace(); got != "space_b" {
		t.Fatalf("active space after next: got %q", got)
	}
	if got := s.ActiveTab(); got != "tab_b1" {
		t.Fatalf("first tab of target space not activated: got %q", got)
	}
	if s.NextSpace() {
		t.Fatalf("NextSpace moved past the last space")
	}
	if !s.PreviousSpace() {
		t.Fatalf("PreviousSpace failed")
	}
	if got := s.ActiveSpace(); got != "space_a" {
		t.Fatalf("active space after previous: got %q", got)
	}
}

func TestClipboardHistoryNewestFirst(t *testing.T) {
	s, st := newTestShell(t)
	putDocs(t, st,
		store.Document{ID: util.ClipboardID(1000), Kind: store.KindClipboard, Content: "first", Timestamp: 1000},
		store.Document{ID: util.ClipboardID(3000), Kind: store.KindClipboard, Content: "third", Timestamp: 3000},
		store.Document{ID: util.ClipboardID(2000), Kind: store.KindClipboard, Content: "second", Timestamp: 2000},
	)

	entries, err := s.ClipboardHistory(context.Background(), 2)
	if err != nil {
		t.Fatalf("ClipboardHistory failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Content != "third" || entries[1].Content != "second" {
		t.Fatalf("clipboard order wrong: %q, %q", entries[0].Content, entries[1].Content)
	}

	if err := s.DeleteClipboardEntry(context.Background(), entries[0].ID); err != nil {
		t.Fatalf("DeleteClipboardEntry failed: %v", err)
	}
	if _, err := st.Get(context.Background(), entries[0].ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("deleted entry still readable: %v", err)
	}
}

func TestEditSpacePersistsDisplayFields(t *testing.T) {
	s, st := newTestShell(t)
	putDocs(t, st, spaceDoc("space_a", 1))
	s.doRefresh("")

	err := s.EditSpace(context.Background(), "space_a", store.Document{Name: "Work", Color: "#ff0000"})
	if err != nil {
		t.Fatalf("EditSpace failed: %v", err)
	}

	stored, err := st.Get(context.Background(), "space_a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Name != "Work" || stored.Color != "#ff0000" {
		t.Fatalf("space edit not persisted: %+v", stored)
	}
}
