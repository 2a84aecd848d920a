// Package sync replicates documents between two stores, typically the local
// Redis store and a remote Postgres peer. Replication is change-feed driven
// and resumes from a checkpoint document persisted in the target.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/scottjenson/xe-darc/internal/store"
)

const checkpointEvery = 25

// Store is the slice of the document store replication needs.
type Store interface {
	Get(ctx context.Context, id string, opts ...store.GetOption) (store.Document, error)
	Put(ctx context.Context, doc store.Document) (string, error)
	Changes(ctx context.Context, since int64) (*store.Feed, error)
}

// Replicator copies changes from a source store into a target store in one
// direction. Use Pair for bidirectional replication.
type Replicator struct {
	name   string
	source Store
	target Store

	applied int64 // changes applied since the last checkpoint write
	lastSeq int64
}

// NewReplicator creates a one-way replicator. The name keys the checkpoint
// document in the target, so each direction of a pair checkpoints
// independently.
func NewReplicator(name string, source, target Store) *Replicator {
	return &Replicator{name: name, source: source, target: target}
}

func (r *Replicator) checkpointID() string {
	return "replication_" + r.name
}

// Run replicates until ctx ends. It resumes from the stored checkpoint, so
// a restart replays only what the target has not confirmed.
func (r *Replicator) Run(ctx context.Context) error {
	since := r.loadCheckpoint(ctx)
	feed, err := r.source.Changes(ctx, since)
	if err != nil {
		return fmt.Errorf("sync %s: open change feed: %w", r.name, err)
	}
	defer feed.Cancel()

	log.Printf("sync %s: replicating from seq %d", r.name, since)
	for {
		select {
		case <-ctx.Done():
			// The run context is already dead; give the final checkpoint
			// write its own deadline.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r.saveCheckpoint(flushCtx)
			cancel()
			return ctx.Err()
		case change, ok := <-feed.C():
			if !ok {
				r.saveCheckpoint(ctx)
				return nil
			}
			r.apply(ctx, change.Doc)
			r.lastSeq = change.Seq
			r.applied++
			if r.applied >= checkpointEvery {
				r.saveCheckpoint(ctx)
			}
		}
	}
}

// apply writes one replicated document into the target. Identical content
// is skipped, which is what stops a pair of replicators from echoing each
// other's writes forever. A conflicting write is retried once on the fresh
// revision; a second conflict means the target is being written faster than
// we replicate, and the change feed will bring us a newer version anyway.
func (r *Replicator) apply(ctx context.Context, doc store.Document) {
	// Checkpoint documents are bookkeeping for one direction and must not
	// ride the other direction's feed back.
	if strings.HasPrefix(doc.ID, "replication_") {
		return
	}

	incoming := doc.Clone()
	incoming.Seq = 0

	for attempt := 0; attempt < 2; attempt++ {
		existing, err := r.target.Get(ctx, doc.ID, store.WithTombstone(), store.WithAttachments())
		switch {
		case err == nil:
			if store.SameContent(existing, incoming) {
				return
			}
			incoming.Rev = existing.Rev
		case errors.Is(err, store.ErrNotFound):
			incoming.Rev = ""
		default:
			log.Printf("sync %s: fetch %s: %v", r.name, doc.ID, err)
			return
		}

		_, err = r.target.Put(ctx, incoming)
		if err == nil {
			return
		}
		if !errors.Is(err, store.ErrConflict) {
			log.Printf("sync %s: write %s: %v", r.name, doc.ID, err)
			return
		}
	}
	log.Printf("sync %s: dropping %s after repeated conflicts", r.name, doc.ID)
}

func (r *Replicator) loadCheckpoint(ctx context.Context) int64 {
	doc, err := r.target.Get(ctx, r.checkpointID())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("sync %s: load checkpoint: %v", r.name, err)
		}
		return 0
	}
	seq, err := strconv.ParseInt(doc.Content, 10, 64)
	if err != nil {
		log.Printf("sync %s: bad checkpoint %q, replicating from scratch", r.name, doc.Content)
		return 0
	}
	return seq
}

func (r *Replicator) saveCheckpoint(ctx context.Context) {
	if r.applied == 0 {
		return
	}
	checkpoint := store.Document{
		ID:      r.checkpointID(),
		Kind:    "replication",
		Content: strconv.FormatInt(r.lastSeq, 10),
	}
	for attempt := 0; attempt < 2; attempt++ {
		if existing, err := r.target.Get(ctx, r.checkpointID()); err == nil {
			checkpoint.Rev = existing.Rev
		}
		_, err := r.target.Put(ctx, checkpoint)
		if err == nil {
			r.applied = 0
			return
		}
		if !errors.Is(err, store.ErrConflict) {
			log.Printf("sync %s: save checkpoint: %v", r.name, err)
			return
		}
	}
	log.Printf("sync %s: checkpoint write conflicted twice", r.name)
}

// Pair runs replication in both directions between a local and a remote
// store until ctx ends.
func Pair(ctx context.Context, local, remote Store) {
	push := NewReplicator("push", local, remote)
	pull := NewReplicator("pull", remote, local)

	done := make(chan struct{}, 2)
	go func() {
		if err := push.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("sync push: %v", err)
		}
		done <- struct{}{}
	}()
	go func() {
		if err := pull.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("sync pull: %v", err)
		}
		done <- struct{}{}
	}()
	<-done
	<-done
}
