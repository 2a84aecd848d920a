// Package attach resolves document attachment references and offloads large
// binaries (screenshots) to an S3-compatible blob store.
package attach

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/scottjenson/xe-darc/internal/store"
)

// Scheme prefixes URLs that point at an inline document attachment.
const Scheme = "attachment://"

// URLFor builds the attachment reference URL for a named attachment on a
// document.
func URLFor(docID, name string) string {
	return Scheme + docID + "/" + name
}

// ParseURL splits an attachment reference into document id and attachment
// name.
func ParseURL(ref string) (docID, name string, err error) {
	rest, ok := strings.CutPrefix(ref, Scheme)
	if !ok {
		return "", "", fmt.Errorf("not an attachment url: %s", ref)
	}
	docID, name, ok = strings.Cut(rest, "/")
	if !ok || docID == "" || name == "" {
		return "", "", fmt.Errorf("malformed attachment url: %s", ref)
	}
	return docID, name, nil
}

// DecodeDataURL decodes a base64 data URL into its bytes and content type.
func DecodeDataURL(dataURL string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return nil, "", fmt.Errorf("not a data url")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data url")
	}
	contentType, encoding, _ := strings.Cut(meta, ";")
	if contentType == "" {
		contentType = "text/plain"
	}
	if encoding != "base64" {
		return nil, "", fmt.Errorf("unsupported data url encoding %q", encoding)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode data url payload: %w", err)
	}
	return data, contentType, nil
}

// attachmentGetter is the slice of the store the resolver needs.
type attachmentGetter interface {
	Get(ctx context.Context, id string, opts ...store.GetOption) (store.Document, error)
}

const resolverCacheMax = 64

// Resolver fetches attachment bytes for attachment:// references, with a
// small cache keyed by document revision so repeated renders of the same
// screenshot skip the store.
type Resolver struct {
	store attachmentGetter

	mu    sync.Mutex
	cache map[string]cached
}

type cached struct {
	rev         string
	data        []byte
	contentType string
}

// NewResolver creates a resolver backed by the given store.
func NewResolver(s attachmentGetter) *Resolver {
	return &Resolver{store: s, cache: make(map[string]cached)}
}

// Resolve returns the bytes and content type for an attachment reference.
func (r *Resolver) Resolve(ctx context.Context, ref string) ([]byte, string, error) {
	docID, name, err := ParseURL(ref)
	if err != nil {
		return nil, "", err
	}

	doc, err := r.store.Get(ctx, docID, store.WithAttachments())
	if err != nil {
		return nil, "", fmt.Errorf("resolve attachment %s: %w", ref, err)
	}

	r.mu.Lock()
	if entry, ok := r.cache[ref]; ok && entry.rev == doc.Rev {
		data, contentType := entry.data, entry.contentType
		r.mu.Unlock()
		return data, contentType, nil
	}
	r.mu.Unlock()

	att, ok := doc.Attachments[name]
	if !ok {
		return nil, "", fmt.Errorf("resolve attachment %s: %w", ref, store.ErrNotFound)
	}

	r.mu.Lock()
	if len(r.cache) >= resolverCacheMax {
		// Cheap reset; a proper LRU is not worth it for screenshot reloads.
		r.cache = make(map[string]cached)
	}
	r.cache[ref] = cached{rev: doc.Rev, data: att.Data, contentType: att.ContentType}
	r.mu.Unlock()

	return att.Data, att.ContentType, nil
}
