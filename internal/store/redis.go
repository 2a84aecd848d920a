package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the local document store. Documents live as JSON values
// under a shared key prefix; writes compare revisions under WATCH, bump a
// store-wide sequence counter, and publish the change on a pub/sub channel.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis at the given URL.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient wraps an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "darc:"}
}

func (s *RedisStore) docKey(id string) string { return s.prefix + "doc:" + id }
func (s *RedisStore) idsKey() string          { return s.prefix + "ids" }
func (s *RedisStore) seqKey() string          { return s.prefix + "seq" }
func (s *RedisStore) channel() string         { return s.prefix + "changes" }

// Put writes one document and returns its new revision token.
func (s *RedisStore) Put(ctx context.Context, doc Document) (string, error) {
	results, err := s.BulkWrite(ctx, []Document{doc})
	if err != nil {
		return "", err
	}
	if results[0].Err != nil {
		return "", results[0].Err
	}
	return results[0].Rev, nil
}

// BulkWrite applies each document independently and reports per-document
// results. A revision mismatch yields ErrConflict for that document only.
func (s *RedisStore) BulkWrite(ctx context.Context, docs []Document) ([]WriteResult, error) {
	results := make([]WriteResult, len(docs))
	for i, doc := range docs {
		stored, err := s.writeOne(ctx, doc)
		results[i] = WriteResult{ID: doc.ID, Rev: stored.Rev, Err: err}
		if err != nil {
			results[i].Rev = ""
			continue
		}
		s.publish(ctx, stored)
	}
	return results, nil
}

func (s *RedisStore) writeOne(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		return Document{}, fmt.Errorf("write document: missing id")
	}
	key := s.docKey(doc.ID)
	var stored Document

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		switch {
		case err == redis.Nil:
			if doc.Rev != "" {
				return ErrConflict
			}
		case err != nil:
			return fmt.Errorf("read current revision: %w", err)
		default:
			var existing Document
			if err := json.Unmarshal([]byte(current), &existing); err != nil {
				return fmt.Errorf("decode stored document %s: %w", doc.ID, err)
			}
			if existing.Rev != doc.Rev {
				return ErrConflict
			}
		}

		// Sequence gaps on an aborted transaction are harmless; only the
		// ordering of committed writes matters.
		seq, err := tx.Incr(ctx, s.seqKey()).Result()
		if err != nil {
			return fmt.Errorf("bump sequence: %w", err)
		}

		doc.Rev = nextRev(doc.Rev)
		doc.Seq = seq
		body, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode document %s: %w", doc.ID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, body, 0)
			pipe.SAdd(ctx, s.idsKey(), doc.ID)
			return nil
		})
		if err != nil {
			return err
		}
		stored = doc
		return nil
	}, key)

	if err == redis.TxFailedErr {
		// Lost the CAS race to a concurrent writer.
		return Document{}, ErrConflict
	}
	if err != nil {
		return Document{}, err
	}
	return stored, nil
}

func (s *RedisStore) publish(ctx context.Context, doc Document) {
	payload, err := json.Marshal(Change{ID: doc.ID, Seq: doc.Seq, Doc: doc})
	if err != nil {
		log.Printf("store: encode change %s: %v", doc.ID, err)
		return
	}
	if err := s.client.Publish(ctx, s.channel(), payload).Err(); err != nil {
		log.Printf("store: publish change %s: %v", doc.ID, err)
	}
}

// Get fetches one document. Attachment bodies are omitted unless requested
// with WithAttachments. Tombstones return ErrNotFound unless WithTombstone.
func (s *RedisStore) Get(ctx context.Context, id string, opts ...GetOption) (Document, error) {
	o := applyGetOptions(opts)
	body, err := s.client.Get(ctx, s.docKey(id)).Result()
	if err == redis.Nil {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s: %w", id, err)
	}
	var doc Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return Document{}, fmt.Errorf("decode %s: %w", id, err)
	}
	if doc.Deleted && !o.tombstone {
		return Document{}, ErrNotFound
	}
	if !o.attachments {
		doc.stripAttachmentData()
	}
	return doc, nil
}

// Remove writes a tombstone for the document. The tombstone keeps the
// revision chain alive so peers replicate the deletion.
func (s *RedisStore) Remove(ctx context.Context, doc Document) error {
	tombstone := Document{
		ID:       doc.ID,
		Rev:      doc.Rev,
		Kind:     doc.Kind,
		SpaceID:  doc.SpaceID,
		Archive:  ArchiveDeleted,
		Modified: time.Now().UnixMilli(),
		Deleted:  true,
	}
	stored, err := s.writeOne(ctx, tombstone)
	if err != nil {
		return err
	}
	s.publish(ctx, stored)
	return nil
}

// Query returns live documents matching the selector, sorted by the
// canonical (archive, spaceId, kind, order) key and capped at the page
// limit. With IDsOnly only document ids are materialized.
func (s *RedisStore) Query(ctx context.Context, sel Selector) ([]Document, error) {
	docs, err := s.allDocs(ctx)
	if err != nil {
		return nil, err
	}
	result := filterAndSort(docs, sel)
	if !sel.IDsOnly {
		for i := range result {
			result[i].stripAttachmentData()
		}
	}
	return result, nil
}

func (s *RedisStore) allDocs(ctx context.Context) ([]Document, error) {
	ids, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list document ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch documents: %w", err)
	}
	docs := make([]Document, 0, len(values))
	for i, value := range values {
		body, ok := value.(string)
		if !ok {
			continue // id set and doc key briefly out of step
		}
		var doc Document
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			log.Printf("store: decode %s: %v", ids[i], err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Changes subscribes to the change feed. With since >= 0 all committed
// writes with a higher sequence are replayed first, in sequence order;
// SinceNow skips replay. The feed must be canceled when done.
func (s *RedisStore) Changes(ctx context.Context, since int64) (*Feed, error) {
	sub := s.client.Subscribe(ctx, s.channel())
	// Confirm the subscription before replaying so no live change can fall
	// between replay and the live stream.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe to changes: %w", err)
	}

	feed := newFeed(func() { sub.Close() })

	go func() {
		defer close(feed.ch)

		last := since
		if since == SinceNow {
			current, err := s.client.Get(ctx, s.seqKey()).Int64()
			if err != nil && err != redis.Nil {
				log.Printf("store: read current sequence: %v", err)
			}
			last = current
		} else {
			docs, err := s.allDocs(ctx)
			if err != nil {
				log.Printf("store: change replay failed: %v", err)
			} else {
				sort.Slice(docs, func(i, j int) bool { return docs[i].Seq < docs[j].Seq })
				for _, doc := range docs {
					if doc.Seq <= last {
						continue
					}
					if !feed.send(Change{ID: doc.ID, Seq: doc.Seq, Doc: doc}) {
						return
					}
					last = doc.Seq
				}
			}
		}

		for msg := range sub.Channel() {
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				log.Printf("store: decode change: %v", err)
				continue
			}
			if change.Seq <= last {
				continue // already covered by replay
			}
			last = change.Seq
			if !feed.send(change) {
				return
			}
		}
	}()

	return feed, nil
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
