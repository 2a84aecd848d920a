package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/scottjenson/xe-darc/internal/store"
)

func newStore(t *testing.T) *store.RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return store.NewRedisStoreWithClient(client)
}

func runBriefly(t *testing.T, r *Replicator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = r.Run(ctx)
}

func TestReplicatorCopiesDocuments(t *testing.T) {
	source := newStore(t)
	target := newStore(t)
	ctx := context.Background()

	putTestDocs(t, source,
		store.Document{ID: "tab_1", Kind: store.KindTab, SpaceID: "space_a", Title: "One", Order: 1},
		store.Document{ID: "space_a", Kind: store.KindSpace, SpaceID: "space_a", Name: "A", Order: 1},
	)

	runBriefly(t, NewReplicator("push", source, target))

	for _, id := range []string{"tab_1", "space_a"} {
		doc, err := target.Get(ctx, id)
		if err != nil {
			t.Fatalf("replicated %s missing: %v", id, err)
		}
		if doc.ID != id {
			t.Fatalf("replicated doc wrong: %+v", doc)
		}
	}
}

func TestReplicatorSkipsIdenticalContent(t *testing.T) {
	source := newStore(t)
	target := newStore(t)
	ctx := context.Background()

	putTestDocs(t, source, store.Document{ID: "tab_1", Kind: store.KindTab, SpaceID: "space_a", Title: "Same", Order: 1})

	runBriefly(t, NewReplicator("push", source, target))
	first, err := target.Get(ctx, "tab_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	// Replaying the same changes must not rewrite identical documents;
	// that is what keeps a bidirectional pair from ping-ponging forever.
	runBriefly(t, NewReplicator("push2", source, target))
	second, err := target.Get(ctx, "tab_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if first.Rev != second.Rev {
		t.Fatalf("identical content rewritten: %q -> %q", first.Rev, second.Rev)
	}
}

func TestReplicatorResumesFromCheckpoint(t *testing.T) {
	source := newStore(t)
	target := newStore(t)
	ctx := context.Background()

	docs := make([]store.Document, 0, checkpointEvery+5)
	for i := 0; i < checkpointEvery+5; i++ {
		docs = append(docs, store.Document{
			ID:      fmt.Sprintf("tab_%03d", i),
			Kind:    store.KindTab,
			SpaceID: "space_a",
			Order:   float64(i),
		})
	}
	putTestDocs(t, source, docs...)

	r := NewReplicator("push", source, target)
	runBriefly(t, r)

	checkpoint, err := target.Get(ctx, "replication_push")
	if err != nil {
		t.Fatalf("checkpoint missing: %v", err)
	}
	if checkpoint.Content == "" || checkpoint.Content == "0" {
		t.Fatalf("checkpoint not advanced: %q", checkpoint.Content)
	}

	// A fresh replicator with the same name resumes past the checkpoint.
	resumed := NewReplicator("push", source, target)
	if since := resumed.loadCheckpoint(ctx); since <= 0 {
		t.Fatalf("resume seq: got %d", since)
	}
}

func TestReplicatorCarriesTombstones(t *testing.T) {
	source := newStore(t)
	target := newStore(t)
	ctx := context.Background()

	putTestDocs(t, source, store.Document{ID: "tab_1", Kind: store.KindTab, SpaceID: "space_a", Order: 1})
	runBriefly(t, NewReplicator("push", source, target))

	doc, err := source.Get(ctx, "tab_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := source.Remove(ctx, doc); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	runBriefly(t, NewReplicator("push", source, target))

	if _, err := target.Get(ctx, "tab_1"); err == nil {
		t.Fatalf("tombstone not replicated")
	}
	tombstone, err := target.Get(ctx, "tab_1", store.WithTombstone())
	if err != nil {
		t.Fatalf("tombstone unreadable: %v", err)
	}
	if !tombstone.Deleted {
		t.Fatalf("replicated doc not a tombstone: %+v", tombstone)
	}
}

func putTestDocs(t *testing.T, st *store.RedisStore, docs ...store.Document) {
	t.Helper()
	results, err := st.BulkWrite(context.Background(), docs)
	if err != nil {
		t.Fatalf("BulkWrite failed: %v", err)
	}
	for _, result := range results {
		if result.Err != nil {
			t.Fatalf("write %s: %v", result.ID, result.Err)
		}
	}
}
