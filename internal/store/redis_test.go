package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreWithClient(client)
}

func TestRedisPutAssignsRevisions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	rev, err := s.Put(ctx, Document{ID: "tab_1", Kind: KindTab, SpaceID: "space_a", Title: "One"})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if RevGeneration(rev) != 1 {
		t.Fatalf("first write generation: got %q", rev)
	}

	doc, err := s.Get(ctx, "tab_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if doc.Rev != rev || doc.Title != "One" {
		t.Fatalf("stored doc mismatch: %+v", doc)
	}

	doc.Title = "Two"
	rev2, err := s.Put(ctx, doc)
	if err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	if RevGeneration(rev2) != 2 {
		t.Fatalf("second write generation: got %q", rev2)
	}
}

func TestRedisStaleRevisionConflicts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	rev, err := s.Put(ctx, Document{ID: "tab_1", Kind: KindTab, SpaceID: "space_a"})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Advance the document, then write against the old revision.
	doc, _ := s.Get(ctx, "tab_1")
	if _, err := s.Put(ctx, doc); err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	stale := Document{ID: "tab_1", Kind: KindTab, SpaceID: "space_a", Rev: rev}
	if _, err := s.Put(ctx, stale); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale write: got %v, want ErrConflict", err)
	}

	// Creating over an existing id without a revision conflicts too.
	if _, err := s.Put(ctx, Document{ID: "tab_1", Kind: KindTab, SpaceID: "space_a"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("recreate: got %v, want ErrConflict", err)
	}
}

func TestRedisBulkWriteReportsPerDocument(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, Document{ID: "space_inbox", Kind: KindSpace, SpaceID: "space_inbox"}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	results, err := s.BulkWrite(ctx, []Document{
		{ID: "space_inbox", Kind: KindSpace, SpaceID: "space_inbox"}, // conflict: exists
		{ID: "tab_1", Kind: KindTab, SpaceID: "space_inbox"},
	})
	if err != nil {
		t.Fatalf("BulkWrite failed: %v", err)
	}
	if !errors.Is(results[0].Err, ErrConflict) {
		t.Fatalf("result[0]: got %v, want ErrConflict", results[0].Err)
	}
	if results[1].Err != nil || results[1].Rev == "" {
		t.Fatalf("result[1]: %+v", results[1])
	}
}

func TestRedisQueryFiltersAndSorts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	docs := []Document{
		{ID: "space_a", Kind: KindSpace, SpaceID: "space_a", Order: 1},
		{ID: "tab_2", Kind: KindTab, SpaceID: "space_a", Order: 2},
		{ID: "tab_1", Kind: KindTab, SpaceID: "space_a", Order: 1},
		{ID: "tab_del", Kind: KindTab, SpaceID: "space_a", Archive: ArchiveDeleted},
		{ID: "tab_b", Kind: KindTab, SpaceID: "space_b", Order: 1},
		{ID: "clip_1", Kind: KindClipboard, Timestamp: 5},
	}
	if _, err := s.BulkWrite(ctx, docs); err != nil {
		t.Fatalf("BulkWrite failed: %v", err)
	}

	scoped, err := s.Query(ctx, Selector{SpaceID: "space_a"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	want := []string{"space_a", "tab_1", "tab_2"}
	if len(scoped) != len(want) {
		t.Fatalf("scoped query: got %v", ids(scoped))
	}
	for i, id := range want {
		if scoped[i].ID != id {
			t.Fatalf("scoped query order: got %v, want %v", ids(scoped), want)
		}
	}

	all, err := s.Query(ctx, Selector{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	for _, doc := range all {
		if doc.ID == "tab_del" || doc.ID == "clip_1" {
			t.Fatalf("unscoped query leaked %s", doc.ID)
		}
	}

	idsOnly, err := s.Query(ctx, Selector{SpaceID: "space_a", IDsOnly: true})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if idsOnly[0].Kind != "" {
		t.Fatalf("ids-only query returned bodies: %+v", idsOnly[0])
	}
}

func TestRedisRemoveWritesTombstone(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	rev, err := s.Put(ctx, Document{ID: "clip_1", Kind: KindClipboard, Content: "hello"})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Remove(ctx, Document{ID: "clip_1", Kind: KindClipboard, Rev: rev}); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if _, err := s.Get(ctx, "clip_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after Remove: got %v, want ErrNotFound", err)
	}

	tomb, err := s.Get(ctx, "clip_1", WithTombstone())
	if err != nil {
		t.Fatalf("Get tombstone failed: %v", err)
	}
	if !tomb.Deleted || tomb.Rev == "" {
		t.Fatalf("tombstone: %+v", tomb)
	}
}

func TestRedisAttachmentsStrippedUnlessRequested(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	doc := Document{
		ID: "tab_1", Kind: KindTab, SpaceID: "space_a",
		Attachments: map[string]Attachment{
			"screenshot": {ContentType: "image/png", Data: []byte("pngbytes")},
		},
	}
	if _, err := s.Put(ctx, doc); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	plain, err := s.Get(ctx, "tab_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	att := plain.Attachments["screenshot"]
	if att.Data != nil {
		t.Fatal("plain Get must strip attachment data")
	}
	if att.Length != len("pngbytes") {
		t.Fatalf("stripped attachment should keep length, got %d", att.Length)
	}

	full, err := s.Get(ctx, "tab_1", WithAttachments())
	if err != nil {
		t.Fatalf("Get with attachments failed: %v", err)
	}
	if string(full.Attachments["screenshot"].Data) != "pngbytes" {
		t.Fatalf("attachment data: %q", full.Attachments["screenshot"].Data)
	}
}

func TestRedisChangesReplayAndLive(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := s.Put(ctx, Document{ID: "tab_1", Kind: KindTab, SpaceID: "space_a"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := s.Put(ctx, Document{ID: "tab_2", Kind: KindTab, SpaceID: "space_a"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	feed, err := s.Changes(ctx, 0)
	if err != nil {
		t.Fatalf("Changes failed: %v", err)
	}
	defer feed.Cancel()

	first := waitChange(t, feed)
	second := waitChange(t, feed)
	if first.ID != "tab_1" || second.ID != "tab_2" {
		t.Fatalf("replay order: %s, %s", first.ID, second.ID)
	}
	if first.Seq >= second.Seq {
		t.Fatalf("sequence order: %d, %d", first.Seq, second.Seq)
	}

	if _, err := s.Put(ctx, Document{ID: "tab_3", Kind: KindTab, SpaceID: "space_a"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	live := waitChange(t, feed)
	if live.ID != "tab_3" || live.Doc.SpaceID != "space_a" {
		t.Fatalf("live change: %+v", live)
	}
}

func TestRedisChangesSinceNowSkipsHistory(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := s.Put(ctx, Document{ID: "tab_old", Kind: KindTab, SpaceID: "space_a"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	feed, err := s.Changes(ctx, SinceNow)
	if err != nil {
		t.Fatalf("Changes failed: %v", err)
	}
	defer feed.Cancel()

	if _, err := s.Put(ctx, Document{ID: "tab_new", Kind: KindTab, SpaceID: "space_a"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	change := waitChange(t, feed)
	if change.ID != "tab_new" {
		t.Fatalf("since-now feed replayed history: got %s", change.ID)
	}
}

func TestRedisFeedCancelIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	feed, err := s.Changes(ctx, SinceNow)
	if err != nil {
		t.Fatalf("Changes failed: %v", err)
	}
	feed.Cancel()
	feed.Cancel()

	select {
	case _, open := <-feed.C():
		if open {
			t.Fatal("channel delivered after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func waitChange(t *testing.T, feed *Feed) Change {
	t.Helper()
	select {
	case change, open := <-feed.C():
		if !open {
			t.Fatal("feed closed unexpectedly")
		}
		return change
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}
