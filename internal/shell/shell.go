// Package shell implements the reconciliation core of the browser shell:
// the pipeline that loads documents from the store into an in-memory
// projection, applies the live change feed to it, keeps the per-space
// active-tab stacks, and hibernates idle rendering resources.
package shell

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scottjenson/xe-darc/internal/search"
	"github.com/scottjenson/xe-darc/internal/store"
)

// Fixed timing and capacity constants. These are deliberate constants, not
// configuration.
const (
	refreshThrottle  = 200 * time.Millisecond
	queryPageCap     = store.DefaultQueryLimit
	queryCapWarn     = 3000
	sweepInterval    = 15 * time.Minute
	hibernateMaxIdle = 48 * time.Hour
	hibernateMaxLive = 40
)

// documentStore is the slice of the store contract the shell consumes.
type documentStore interface {
	BulkWrite(ctx context.Context, docs []store.Document) ([]store.WriteResult, error)
	Query(ctx context.Context, sel store.Selector) ([]store.Document, error)
	Get(ctx context.Context, id string, opts ...store.GetOption) (store.Document, error)
	Put(ctx context.Context, doc store.Document) (string, error)
	Remove(ctx context.Context, doc store.Document) error
	Changes(ctx context.Context, since int64) (*store.Feed, error)
	Ping(ctx context.Context) error
}

// Ping reports whether the backing store is reachable.
func (s *Shell) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Shell owns the projection and serializes every mutation of it under one
// lock; the change-feed consumer runs as a single goroutine.
type Shell struct {
	store    documentStore
	search   *search.Service
	blobs    ScreenshotStore
	newFrame FrameFactory
	now      func() time.Time

	refresh *coalescer[string]

	mu          sync.Mutex
	p           projection
	frames      map[string]*Frame
	initialLoad bool
	editing     string
	lastSeq     int64
	feed        *store.Feed
}

// Option configures a Shell.
type Option func(*Shell)

// WithSearch attaches a search service; live tab and space documents are
// kept indexed as the change feed applies them.
func WithSearch(svc *search.Service) Option {
	return func(s *Shell) { s.search = svc }
}

// WithFrameFactory lets the shell recreate a rendering context when a
// hibernated tab is re-activated.
func WithFrameFactory(factory FrameFactory) Option {
	return func(s *Shell) { s.newFrame = factory }
}

// WithScreenshotStore offloads screenshot attachments to a blob store
// instead of inlining them in the document.
func WithScreenshotStore(blobs ScreenshotStore) Option {
	return func(s *Shell) { s.blobs = blobs }
}

// WithClock overrides the shell's clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Shell) { s.now = now }
}

// New creates a Shell over the given store.
func New(st documentStore, opts ...Option) *Shell {
	s := &Shell{
		store:       st,
		now:         time.Now,
		p:           newProjection(),
		frames:      make(map[string]*Frame),
		initialLoad: true,
	}
	s.refresh = newCoalescer(refreshThrottle, s.doRefresh)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes to the store's live change feed and schedules the first
// refresh. The subscription lasts until Close or until ctx ends.
func (s *Shell) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.feed != nil {
		s.mu.Unlock()
		return fmt.Errorf("shell already started")
	}
	s.mu.Unlock()

	feed, err := s.store.Changes(ctx, store.SinceNow)
	if err != nil {
		return fmt.Errorf("subscribe change feed: %w", err)
	}

	s.mu.Lock()
	s.feed = feed
	s.mu.Unlock()

	go s.consume(feed)
	s.Refresh("")
	return nil
}

// Close cancels the change-feed subscription. Idempotent.
func (s *Shell) Close() {
	s.mu.Lock()
	feed := s.feed
	s.mu.Unlock()
	if feed != nil {
		feed.Cancel()
	}
}

// Refresh schedules a projection rebuild, scoped to one space when spaceID
// is non-empty. Rapid calls within the throttle window collapse to the
// trailing call; the rebuild is eventually consistent, not synchronous.
func (s *Shell) Refresh(spaceID string) {
	s.refresh.Call(spaceID)
}

// SetEditing marks a document as under local edit. Change-feed echoes for
// it are suppressed until ClearEditing.
func (s *Shell) SetEditing(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editing = id
}

// ClearEditing lifts the local-edit suppression.
func (s *Shell) ClearEditing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editing = ""
}

// LastSeq returns the sequence token of the last applied change.
func (s *Shell) LastSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

func (s *Shell) millis() int64 {
	return s.now().UnixMilli()
}
