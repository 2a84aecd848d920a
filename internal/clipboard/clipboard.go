// Package clipboard records clipboard history as documents. The platform
// clipboard is read through an injected Reader, so the monitor itself stays
// portable and testable.
package clipboard

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/scottjenson/xe-darc/internal/store"
	"github.com/scottjenson/xe-darc/internal/util"
)

const (
	pollInterval = 1 * time.Second
	// Entries above this size are skipped; nobody wants a 50 MB paste
	// replicated to every device.
	maxEntryBytes = 100 * 1024
)

// Reader reads the current platform clipboard text.
type Reader interface {
	ReadText(ctx context.Context) (string, error)
}

// Writer is the slice of the document store the monitor needs.
type Writer interface {
	Put(ctx context.Context, doc store.Document) (string, error)
}

// Monitor polls the clipboard and writes a document for every new text
// value it sees.
type Monitor struct {
	reader Reader
	writer Writer
	now    func() time.Time

	lastSeen string
}

// NewMonitor creates a clipboard monitor.
func NewMonitor(reader Reader, writer Writer) *Monitor {
	return &Monitor{reader: reader, writer: writer, now: time.Now}
}

// Run polls until ctx ends. Read errors are logged and retried on the next
// tick; the clipboard being briefly unreadable (screen locked, another app
// holding it) is normal.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.poll(ctx); err != nil {
				log.Printf("clipboard: %v", err)
			}
		}
	}
}

func (m *Monitor) poll(ctx context.Context) error {
	text, err := m.reader.ReadText(ctx)
	if err != nil {
		return fmt.Errorf("read clipboard: %w", err)
	}
	if text == "" || text == m.lastSeen {
		return nil
	}
	m.lastSeen = text

	if len(text) > maxEntryBytes {
		log.Printf("clipboard: skipping %d byte entry", len(text))
		return nil
	}

	now := m.now().UnixMilli()
	doc := store.Document{
		ID:        util.ClipboardID(now),
		Kind:      store.KindClipboard,
		Content:   text,
		Created:   now,
		Timestamp: now,
	}
	if _, err := m.writer.Put(ctx, doc); err != nil {
		return fmt.Errorf("store clipboard entry: %w", err)
	}
	return nil
}
