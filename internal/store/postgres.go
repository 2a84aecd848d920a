package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// changePollInterval is how often the Postgres change feed polls for
// committed writes. Postgres is the replication peer, not the UI-facing
// store, so polling latency here is acceptable.
const changePollInterval = 500 * time.Millisecond

// PostgresStore is the remote replication peer. One row per document;
// revision checks happen in the UPDATE predicate, sequence assignment in a
// database sequence.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Put writes one document and returns its new revision token.
func (s *PostgresStore) Put(ctx context.Context, doc Document) (string, error) {
	stored, err := s.writeOne(ctx, doc)
	if err != nil {
		return "", err
	}
	return stored.Rev, nil
}

// BulkWrite applies each document independently with per-document results.
func (s *PostgresStore) BulkWrite(ctx context.Context, docs []Document) ([]WriteResult, error) {
	results := make([]WriteResult, len(docs))
	for i, doc := range docs {
		stored, err := s.writeOne(ctx, doc)
		results[i] = WriteResult{ID: doc.ID, Rev: stored.Rev, Err: err}
	}
	return results, nil
}

func (s *PostgresStore) writeOne(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		return Document{}, fmt.Errorf("write document: missing id")
	}

	expected := doc.Rev
	doc.Rev = nextRev(expected)

	if expected == "" {
		// Insert; an existing row (even a tombstone) is a conflict the
		// caller resolves by fetching the current revision.
		body, seq, err := s.encode(ctx, doc)
		if err != nil {
			return Document{}, err
		}
		doc.Seq = seq
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO documents (id, rev, seq, deleted, body)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING`,
			doc.ID, doc.Rev, seq, doc.Deleted, body)
		if err != nil {
			return Document{}, fmt.Errorf("insert %s: %w", doc.ID, err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return Document{}, ErrConflict
		}
		return doc, nil
	}

	body, seq, err := s.encode(ctx, doc)
	if err != nil {
		return Document{}, err
	}
	doc.Seq = seq
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET rev = $2, seq = $3, deleted = $4, body = $5
		WHERE id = $1 AND rev = $6`,
		doc.ID, doc.Rev, seq, doc.Deleted, body, expected)
	if err != nil {
		return Document{}, fmt.Errorf("update %s: %w", doc.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return Document{}, ErrConflict
	}
	return doc, nil
}

// encode assigns the next sequence value and marshals the document body
// with its final rev and seq.
func (s *PostgresStore) encode(ctx context.Context, doc Document) ([]byte, int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT nextval('documents_seq')`).Scan(&seq); err != nil {
		return nil, 0, fmt.Errorf("next sequence: %w", err)
	}
	doc.Seq = seq
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, 0, fmt.Errorf("encode %s: %w", doc.ID, err)
	}
	return body, seq, nil
}

// Get fetches one document.
func (s *PostgresStore) Get(ctx context.Context, id string, opts ...GetOption) (Document, error) {
	o := applyGetOptions(opts)
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE id = $1`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s: %w", id, err)
	}
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
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

// Remove writes a tombstone for the document.
func (s *PostgresStore) Remove(ctx context.Context, doc Document) error {
	tombstone := Document{
		ID:       doc.ID,
		Rev:      doc.Rev,
		Kind:     doc.Kind,
		SpaceID:  doc.SpaceID,
		Archive:  ArchiveDeleted,
		Modified: time.Now().UnixMilli(),
		Deleted:  true,
	}
	_, err := s.writeOne(ctx, tombstone)
	return err
}

// Query returns live documents matching the selector in canonical order.
func (s *PostgresStore) Query(ctx context.Context, sel Selector) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM documents WHERE NOT deleted`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		var doc Document
		if err := json.Unmarshal(body, &doc); err != nil {
			log.Printf("store: decode queried document: %v", err)
			continue
		}
		if !sel.IDsOnly {
			doc.stripAttachmentData()
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	return filterAndSort(docs, sel), nil
}

// Changes streams committed writes with seq > since by polling. SinceNow
// starts from the current maximum sequence.
func (s *PostgresStore) Changes(ctx context.Context, since int64) (*Feed, error) {
	last := since
	if since == SinceNow {
		if err := s.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) FROM documents`).Scan(&last); err != nil {
			return nil, fmt.Errorf("read current sequence: %w", err)
		}
	}

	pollCtx, cancel := context.WithCancel(ctx)
	feed := newFeed(cancel)

	go func() {
		defer close(feed.ch)
		ticker := time.NewTicker(changePollInterval)
		defer ticker.Stop()
		for {
			next, err := s.pollChanges(pollCtx, feed, last)
			if err != nil {
				if pollCtx.Err() != nil {
					return
				}
				log.Printf("store: poll changes: %v", err)
			} else {
				last = next
			}
			select {
			case <-pollCtx.Done():
				return
			case <-feed.done:
				return
			case <-ticker.C:
			}
		}
	}()

	return feed, nil
}

func (s *PostgresStore) pollChanges(ctx context.Context, feed *Feed, since int64) (int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, body FROM documents WHERE seq > $1 ORDER BY seq`, since)
	if err != nil {
		return since, err
	}
	defer rows.Close()

	last := since
	for rows.Next() {
		var seq int64
		var body []byte
		if err := rows.Scan(&seq, &body); err != nil {
			return last, err
		}
		var doc Document
		if err := json.Unmarshal(body, &doc); err != nil {
			log.Printf("store: decode change body: %v", err)
			last = seq
			continue
		}
		if !feed.send(Change{ID: doc.ID, Seq: seq, Doc: doc}) {
			return last, ctx.Err()
		}
		last = seq
	}
	return last, rows.Err()
}

// Ping verifies connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
