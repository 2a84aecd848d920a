// Package seed holds the fixed document set written on first run. Seed
// documents use stable ids so repeated bootstraps converge existing
// documents back to canonical seed content.
package seed

import (
	"time"

	"github.com/scottjenson/xe-darc/internal/store"
	"github.com/scottjenson/xe-darc/internal/util"
)

// Well-known document ids.
const (
	InboxSpaceID   = "space_inbox"
	DefaultSpaceID = "space_default"
	WelcomeTabID   = "tab_welcome"
)

const inboxGlyph = `<svg xmlns="http://www.w3.org/2000/svg" width="24" height="24" viewBox="0 0 24 24" fill="none" stroke="currentColor" stroke-width="2" stroke-linecap="round" stroke-linejoin="round"><path d="M22 12h-6l-2 2H8l-2-2H2"></path><path d="M5.45 5.11L2 12v6a2 2 0 0 0 2 2h16a2 2 0 0 0 2-2v-6l-3.45-6.89A2 2 0 0 0 16.76 4H7.24a2 2 0 0 0-1.79 1.11z"></path></svg>`

// Documents returns the bootstrap seed set.
func Documents() []store.Document {
	now := time.Now().UnixMilli()
	return []store.Document{
		{
			ID:       DefaultSpaceID,
			Kind:     store.KindSpace,
			SpaceID:  DefaultSpaceID,
			Name:     "Home",
			Title:    "Home",
			Color:    util.SpaceColors[0],
			Order:    1,
			Created:  now,
			Modified: now,
		},
		{
			ID:      InboxSpaceID,
			Kind:    store.KindSpace,
			SpaceID: InboxSpaceID,
			Name:    "Inbox",
			Title:   "Inbox",
			Color:   util.SpaceColors[3],
			Glyph:   inboxGlyph,
			// The inbox always sorts after user-created spaces.
			Order:    float64(now) + 999999999,
			Created:  now,
			Modified: now,
		},
		{
			ID:       WelcomeTabID,
			Kind:     store.KindTab,
			SpaceID:  DefaultSpaceID,
			URL:      "about:newtab",
			Title:    "New Tab",
			Order:    1,
			Created:  now,
			Modified: now,
		},
	}
}
