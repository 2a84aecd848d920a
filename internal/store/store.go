// Package store implements the revisioned document database backing the
// shell. Two backends share one contract: a Redis-backed local store and a
// Postgres-backed replication peer. Both provide bulk writes with optimistic
// concurrency, an indexed query in canonical sort order, and a cancelable,
// sequence-ordered change feed.
package store

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Document kinds.
const (
	KindSpace     = "space"
	KindTab       = "tab"
	KindActivity  = "activity"
	KindResource  = "resource"
	KindClipboard = "clipboard"
)

// Archive states. The zero value means the document is live.
const (
	ArchiveNone    = ""
	ArchivePreview = "preview"
	ArchiveClosed  = "closed"
	ArchiveHistory = "history"
	ArchiveDeleted = "deleted"
)

var archiveRanks = map[string]int{
	ArchiveNone:    0,
	ArchivePreview: 1,
	ArchiveClosed:  2,
	ArchiveHistory: 3,
	ArchiveDeleted: 4,
}

// ArchiveRank maps an archive state to its position in the canonical sort.
// Unknown states rank just below deleted so they stay visible to queries.
func ArchiveRank(state string) int {
	if rank, ok := archiveRanks[state]; ok {
		return rank
	}
	return archiveRanks[ArchiveDeleted] - 1
}

var (
	// ErrConflict is returned when a write carries a stale revision token.
	ErrConflict = errors.New("document revision conflict")
	// ErrNotFound is returned when a document does not exist or is deleted.
	ErrNotFound = errors.New("document not found")
)

// Attachment is a named binary blob carried by a document. Data is populated
// only when the document was fetched with WithAttachments.
type Attachment struct {
	ContentType string `json:"contentType"`
	Length      int    `json:"length,omitempty"`
	Data        []byte `json:"data,omitempty"`
}

// Document is the store's atomic unit. All entity kinds share this single
// tagged struct; absent fields keep their zero value instead of being
// dynamically present or missing.
type Document struct {
	ID       string  `json:"id"`
	Rev      string  `json:"rev,omitempty"`
	Kind     string  `json:"kind"`
	Archive  string  `json:"archive,omitempty"`
	SpaceID  string  `json:"spaceId,omitempty"`
	Order    float64 `json:"order,omitempty"`
	Created  int64   `json:"created,omitempty"`
	Modified int64   `json:"modified,omitempty"`

	Name    string `json:"name,omitempty"`
	Title   string `json:"title,omitempty"`
	Color   string `json:"color,omitempty"`
	Glyph   string `json:"glyph,omitempty"`
	URL     string `json:"url,omitempty"`
	Favicon string `json:"favicon,omitempty"`

	Pinned     bool           `json:"pinned,omitempty"`
	Preview    bool           `json:"preview,omitempty"`
	Lightbox   bool           `json:"lightbox,omitempty"`
	Opener     string         `json:"opener,omitempty"`
	Canvas     map[string]any `json:"canvas,omitempty"`
	Screenshot string         `json:"screenshot,omitempty"`

	// Activity entries.
	Action string `json:"action,omitempty"`
	TabID  string `json:"tabId,omitempty"`

	// Clipboard entries.
	Content   string `json:"content,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	Attachments map[string]Attachment `json:"attachments,omitempty"`

	// Deleted marks a tombstone written by Remove. Tombstones are invisible
	// to Get and Query but replayed by the change feed.
	Deleted bool `json:"deleted,omitempty"`
	// Seq is the store-wide sequence of the last committed write to this
	// document. Assigned by the store; callers must not set it.
	Seq int64 `json:"seq,omitempty"`
}

// Clone returns a deep copy safe to mutate independently.
func (d Document) Clone() Document {
	out := d
	if d.Canvas != nil {
		out.Canvas = make(map[string]any, len(d.Canvas))
		for k, v := range d.Canvas {
			out.Canvas[k] = v
		}
	}
	if d.Attachments != nil {
		out.Attachments = make(map[string]Attachment, len(d.Attachments))
		for name, att := range d.Attachments {
			cp := att
			if att.Data != nil {
				cp.Data = append([]byte(nil), att.Data...)
			}
			out.Attachments[name] = cp
		}
	}
	return out
}

// stripAttachmentData drops attachment bodies, leaving only metadata.
func (d *Document) stripAttachmentData() {
	for name, att := range d.Attachments {
		if att.Data != nil {
			att.Length = len(att.Data)
			att.Data = nil
			d.Attachments[name] = att
		}
	}
}

// WriteResult reports the outcome of one document in a bulk write.
type WriteResult struct {
	ID  string
	Rev string
	Err error
}

// Selector scopes a Query. Queries always exclude documents whose archive
// state ranks at deleted or above, and tombstones.
type Selector struct {
	// SpaceID limits results to one space. When empty, any document that
	// belongs to a space matches (spaces carry their own id as SpaceID).
	SpaceID string
	// Kind, when set, matches on kind alone and bypasses the space
	// requirement. Used for clipboard history.
	Kind string
	// IDsOnly returns documents with only the ID field populated.
	IDsOnly bool
	// Limit caps the result set. Zero means DefaultQueryLimit.
	Limit int
	// NewestFirst sorts by Timestamp descending instead of the canonical
	// (archive, spaceId, kind, order) ascending key.
	NewestFirst bool
}

// DefaultQueryLimit is the fixed query page cap. There is no pagination;
// callers log a capacity warning as results approach this bound.
const DefaultQueryLimit = 4000

// Change is one entry of the change feed.
type Change struct {
	ID  string   `json:"id"`
	Seq int64    `json:"seq"`
	Doc Document `json:"doc"`
}

// SinceNow subscribes a change feed to live changes only, skipping replay.
const SinceNow int64 = -1

// Feed is a cancelable stream of document changes in sequence order.
type Feed struct {
	ch     chan Change
	done   chan struct{}
	once   sync.Once
	cancel func()
}

func newFeed(cancel func()) *Feed {
	return &Feed{
		ch:     make(chan Change, 64),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// C returns the change channel. It is closed after Cancel or when the
// subscription's context ends.
func (f *Feed) C() <-chan Change { return f.ch }

// Cancel stops the subscription. It is idempotent.
func (f *Feed) Cancel() {
	f.once.Do(func() {
		close(f.done)
		if f.cancel != nil {
			f.cancel()
		}
	})
}

// send delivers a change unless the feed was canceled. Reports delivery.
func (f *Feed) send(c Change) bool {
	select {
	case f.ch <- c:
		return true
	case <-f.done:
		return false
	}
}

// GetOption modifies a Get.
type GetOption func(*getOptions)

type getOptions struct {
	attachments bool
	tombstone   bool
}

// WithAttachments populates attachment data on the fetched document.
func WithAttachments() GetOption {
	return func(o *getOptions) { o.attachments = true }
}

// WithTombstone lets Get return a deleted document's tombstone (with its
// current revision) instead of ErrNotFound. Used by the replicator.
func WithTombstone() GetOption {
	return func(o *getOptions) { o.tombstone = true }
}

func applyGetOptions(opts []GetOption) getOptions {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Less reports the canonical (archive, spaceId, kind, order) ordering.
func Less(a, b Document) bool {
	ar, br := ArchiveRank(a.Archive), ArchiveRank(b.Archive)
	if ar != br {
		return ar < br
	}
	if a.SpaceID != b.SpaceID {
		return a.SpaceID < b.SpaceID
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.Order < b.Order
}

// matchSelector reports whether a live document satisfies the selector's
// filter clauses. Tombstones and deleted-ranked documents never match.
func matchSelector(doc Document, sel Selector) bool {
	if doc.Deleted || ArchiveRank(doc.Archive) >= ArchiveRank(ArchiveDeleted) {
		return false
	}
	if sel.Kind != "" {
		return doc.Kind == sel.Kind
	}
	if doc.SpaceID == "" {
		return false
	}
	return sel.SpaceID == "" || doc.SpaceID == sel.SpaceID
}

// filterAndSort applies a selector to an unordered document set, yielding
// the query result in the requested order, capped at the page limit.
func filterAndSort(docs []Document, sel Selector) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if matchSelector(doc, sel) {
			out = append(out, doc)
		}
	}
	if sel.NewestFirst {
		sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	} else {
		sort.Slice(out, func(i, j int) bool { return Less(out[i], out[j]) })
	}
	limit := sel.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	if sel.IDsOnly {
		for i := range out {
			out[i] = Document{ID: out[i].ID}
		}
	}
	return out
}

// nextRev bumps a revision token: generation counter plus a random suffix.
func nextRev(current string) string {
	gen := 0
	if current != "" {
		if idx := strings.IndexByte(current, '-'); idx > 0 {
			gen, _ = strconv.Atoi(current[:idx])
		}
	}
	suffix := make([]byte, 8)
	_, _ = rand.Read(suffix)
	return strconv.Itoa(gen+1) + "-" + hex.EncodeToString(suffix)
}

// RevGeneration returns the numeric generation of a revision token.
func RevGeneration(rev string) int {
	if idx := strings.IndexByte(rev, '-'); idx > 0 {
		gen, _ := strconv.Atoi(rev[:idx])
		return gen
	}
	return 0
}

// SameContent reports whether two documents carry identical content,
// ignoring store bookkeeping (rev and seq). The replicator uses this to
// stop echo loops between peers.
func SameContent(a, b Document) bool {
	a.Rev, b.Rev = "", ""
	a.Seq, b.Seq = 0, 0
	return reflect.DeepEqual(a, b)
}
