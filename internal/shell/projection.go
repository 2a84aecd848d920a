package shell

import (
	"sort"

	"github.com/scottjenson/xe-darc/internal/store"
)

// defaultSpaceOrder stands in for a missing space order so unordered spaces
// sort deterministically.
const defaultSpaceOrder = 2

// space is one projected space: its document plus deriver-owned state. The
// derived fields live outside the document on purpose; merging an incoming
// space document can never touch them.
type space struct {
	doc             store.Document
	tabs            []store.Document
	activeTabsOrder []string
}

// previewGroup collects the preview/lightbox tabs spawned by one opener tab.
type previewGroup struct {
	lightbox string
	tabs     []store.Document
}

// projection is the in-memory, store-derived view the UI reads. It is
// mutated only by the refresh pipeline, the change-feed reconciler, and the
// active-tab stack, always under the shell's lock.
type projection struct {
	docs     map[string]store.Document
	spaces   map[string]*space
	previews map[string]*previewGroup

	spaceOrder  []string
	closedTabs  []store.Document
	activeSpace string
	activeTab   string
}

func newProjection() projection {
	return projection{
		docs:     make(map[string]store.Document),
		spaces:   make(map[string]*space),
		previews: make(map[string]*previewGroup),
	}
}

func (p *projection) ensureSpace(id string) *space {
	if sp, ok := p.spaces[id]; ok {
		return sp
	}
	sp := &space{doc: store.Document{ID: id, Kind: store.KindSpace}}
	p.spaces[id] = sp
	return sp
}

// mergeSpaceDoc folds an incoming space document into the projection,
// creating the entry with an empty tab list when absent.
func (p *projection) mergeSpaceDoc(doc store.Document) {
	sp, ok := p.spaces[doc.ID]
	if !ok {
		p.spaces[doc.ID] = &space{doc: doc}
		return
	}
	sp.doc = doc
}

func (p *projection) ensurePreview(opener string) *previewGroup {
	if g, ok := p.previews[opener]; ok {
		return g
	}
	g := &previewGroup{}
	p.previews[opener] = g
	return g
}

// orderSpaces recomputes the space ordering by ascending order value, with
// the id as tiebreak for determinism.
func (p *projection) orderSpaces() {
	order := make([]string, 0, len(p.spaces))
	for id := range p.spaces {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := spaceOrderValue(p.spaces[order[i]].doc), spaceOrderValue(p.spaces[order[j]].doc)
		if a != b {
			return a < b
		}
		return order[i] < order[j]
	})
	p.spaceOrder = order
}

func spaceOrderValue(doc store.Document) float64 {
	if doc.Order == 0 {
		return defaultSpaceOrder
	}
	return doc.Order
}

// tabExists reports whether a tab id resolves to a live tab of the space.
func (sp *space) tabExists(tabID string) bool {
	for _, tab := range sp.tabs {
		if tab.ID == tabID {
			return true
		}
	}
	return false
}

// SpaceView is a read-only copy of one projected space.
type SpaceView struct {
	store.Document
	Tabs            []store.Document `json:"tabs"`
	ActiveTabsOrder []string         `json:"activeTabsOrder,omitempty"`
}

// PreviewView is a read-only copy of one preview group.
type PreviewView struct {
	Lightbox string           `json:"lightbox,omitempty"`
	Tabs     []store.Document `json:"tabs"`
}

// Snapshot is a consistent read of the whole projection.
type Snapshot struct {
	ActiveSpace string                 `json:"activeSpace,omitempty"`
	ActiveTab   string                 `json:"activeTab,omitempty"`
	SpaceOrder  []string               `json:"spaceOrder"`
	Spaces      []SpaceView            `json:"spaces"`
	Previews    map[string]PreviewView `json:"previews,omitempty"`
	ClosedTabs  []store.Document       `json:"closedTabs"`
}

// Snapshot returns a copy of the projection in space order. Callers own the
// result; mutating it never touches live state.
func (s *Shell) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ActiveSpace: s.p.activeSpace,
		ActiveTab:   s.p.activeTab,
		SpaceOrder:  append([]string(nil), s.p.spaceOrder...),
		ClosedTabs:  cloneDocs(s.p.closedTabs),
	}
	for _, id := range s.p.spaceOrder {
		sp := s.p.spaces[id]
		snap.Spaces = append(snap.Spaces, SpaceView{
			Document:        sp.doc.Clone(),
			Tabs:            cloneDocs(sp.tabs),
			ActiveTabsOrder: append([]string(nil), sp.activeTabsOrder...),
		})
	}
	if len(s.p.previews) > 0 {
		snap.Previews = make(map[string]PreviewView, len(s.p.previews))
		for opener, g := range s.p.previews {
			snap.Previews[opener] = PreviewView{Lightbox: g.lightbox, Tabs: cloneDocs(g.tabs)}
		}
	}
	return snap
}

// Doc returns a copy of one document from the projection.
func (s *Shell) Doc(id string) (store.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.p.docs[id]
	if !ok {
		return store.Document{}, false
	}
	return doc.Clone(), true
}

// ActiveSpace returns the currently active space id.
func (s *Shell) ActiveSpace() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.activeSpace
}

// ActiveTab returns the currently active tab id.
func (s *Shell) ActiveTab() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.activeTab
}

// SetActiveSpace switches the active space without touching tab state.
// Returns false when the space is unknown.
func (s *Shell) SetActiveSpace(spaceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.p.spaces[spaceID]; !ok {
		return false
	}
	s.p.activeSpace = spaceID
	return true
}

func cloneDocs(docs []store.Document) []store.Document {
	if docs == nil {
		return nil
	}
	out := make([]store.Document, len(docs))
	for i, doc := range docs {
		out[i] = doc.Clone()
	}
	return out
}
