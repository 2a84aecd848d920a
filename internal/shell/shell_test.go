package shell

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/scottjenson/xe-darc/internal/store"
)

func newTestShell(t *testing.T, opts ...Option) (*Shell, *store.RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	st := store.NewRedisStoreWithClient(client)
	return New(st, opts...), st
}

func putDocs(t *testing.T, st *store.RedisStore, docs ...store.Document) {
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

// reflectChange hand-delivers a document's latest stored state to the
// shell, standing in for the live change feed the tests do not run.
func reflectChange(t *testing.T, s *Shell, st *store.RedisStore, id string) {
	t.Helper()
	doc, err := st.Get(context.Background(), id, store.WithTombstone())
	if err != nil {
		t.Fatalf("reflect %s: %v", id, err)
	}
	s.applyChange(store.Change{ID: id, Seq: doc.Seq, Doc: doc})
}

func spaceDoc(id string, order float64) store.Document {
	return store.Document{ID: id, Kind: store.KindSpace, SpaceID: id, Name: id, Order: order}
}

func tabDoc(id, spaceID string, order float64) store.Document {
	return store.Document{ID: id, Kind: store.KindTab, SpaceID: spaceID, URL: "https://example.com/" + id, Order: order}
}

// fakeClock is a manually advanced clock for hibernation tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}
