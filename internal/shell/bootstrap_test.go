package shell

import (
	"context"
	"testing"

	"github.com/scottjenson/xe-darc/internal/seed"
	"github.com/scottjenson/xe-darc/internal/store"
)

func TestBootstrapInsertsSeedsOnFreshStore(t *testing.T) {
	s, st := newTestShell(t)
	ctx := context.Background()

	if err := s.Bootstrap(ctx, seed.Documents()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	for _, want := range seed.Documents() {
		doc, err := st.Get(ctx, want.ID)
		if err != nil {
			t.Fatalf("seed %s missing: %v", want.ID, err)
		}
		if store.RevGeneration(doc.Rev) != 1 {
			t.Fatalf("seed %s generation: got %q", want.ID, doc.Rev)
		}
	}
}

func TestBootstrapConvergesCustomizedSeeds(t *testing.T) {
	s, st := newTestShell(t)
	ctx := context.Background()

	// A previous run left a customized copy of the inbox space behind.
	customized := store.Document{
		ID:      seed.InboxSpaceID,
		Kind:    store.KindSpace,
		SpaceID: seed.InboxSpaceID,
		Name:    "Renamed Inbox",
		Order:   1,
	}
	if _, err := st.Put(ctx, customized); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := s.Bootstrap(ctx, seed.Documents()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	doc, err := st.Get(ctx, seed.InboxSpaceID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if doc.Name == "Renamed Inbox" {
		t.Fatalf("customized seed did not converge to canonical content")
	}
	if store.RevGeneration(doc.Rev) != 2 {
		t.Fatalf("expected exactly one conflict-merge write, got rev %q", doc.Rev)
	}
}

func TestBootstrapSurvivesPartialConflicts(t *testing.T) {
	s, st := newTestShell(t)
	ctx := context.Background()

	// Only one of the seeds conflicts; the others must still insert.
	existing := store.Document{ID: seed.WelcomeTabID, Kind: store.KindTab, SpaceID: seed.DefaultSpaceID, URL: "https://example.com"}
	if _, err := st.Put(ctx, existing); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := s.Bootstrap(ctx, seed.Documents()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	for _, want := range seed.Documents() {
		if _, err := st.Get(ctx, want.ID); err != nil {
			t.Fatalf("seed %s missing after partial conflict: %v", want.ID, err)
		}
	}
}
