package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"codocs/internal/models"
	"codocs/internal/redis"

	"github.com/google/uuid"
)

const cacheTTL = 5 * time.Minute

// Service is the only component that touches the documents table. Live
// collaboration state never lives here; this is load/store for snapshots.
type Service struct {
	db    *sql.DB
	cache *redis.Client
}

// NewService constructs the document service. cache may be nil, in which case
// the read path always goes to the database.
func NewService(db *sql.DB, cache *redis.Client) *Service {
	return &Service{db: db, cache: cache}
}

// GetOrCreate returns the document for id, inserting an empty record on first
// access. created reports whether this call performed the insert. Concurrent
// calls for the same unseen id resolve to a single record: the losing insert
// falls back to reading the winner's row.
func (s *Service) GetOrCreate(ctx context.Context, id string) (*models.Document, bool, error) {
	if strings.TrimSpace(id) == "" {
		return nil, false, errors.New("document id is required")
	}
	doc, err := s.fetch(ctx, id)
	if err == nil {
		return doc, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	now := time.Now().UTC()
	_, insErr := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, models.DefaultTitle, string(models.EmptyContent), now, now,
	)
	if insErr == nil {
		return &models.Document{
			ID:        id,
			Title:     models.DefaultTitle,
			Content:   models.EmptyContent,
			CreatedAt: now,
			UpdatedAt: now,
		}, true, nil
	}

	// Insert conflicts when another session created the record first.
	doc, err = s.fetch(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("create document: %w", insErr)
	}
	return doc, false, nil
}

// Upsert overwrites content and updated_at unconditionally, creating the
// record if it is somehow absent. Last writer wins; there is no version check.
func (s *Service) Upsert(ctx context.Context, id string, content json.RawMessage, ts time.Time) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("document id is required")
	}
	if len(content) == 0 {
		content = models.EmptyContent
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET content = ?, updated_at = ? WHERE id = ?`,
		string(content), ts, id,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("document rows affected: %w", err)
	}
	if affected == 0 {
		if _, insErr := s.db.ExecContext(ctx,
			`INSERT INTO documents (id, title, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			id, models.DefaultTitle, string(content), ts, ts,
		); insErr != nil {
			// Either a concurrent creator won the insert race or the insert
			// failed outright. Retry the update; if the record still is not
			// there the insert failure is the real cause.
			res, err := s.db.ExecContext(ctx,
				`UPDATE documents SET content = ?, updated_at = ? WHERE id = ?`,
				string(content), ts, id,
			)
			if err != nil {
				return fmt.Errorf("upsert document: %w (insert failed: %v)", err, insErr)
			}
			retried, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("document rows affected: %w", err)
			}
			if retried == 0 {
				return fmt.Errorf("insert document: %w", insErr)
			}
		}
	}
	s.invalidate(ctx, id)
	return nil
}

// GetByID fetches a document without creating it. Absence is reported as
// sql.ErrNoRows. This path serves the non-realtime CRUD interface and is the
// only consumer of the redis read cache.
func (s *Service) GetByID(ctx context.Context, id string) (*models.Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("document id is required")
	}
	if doc, ok := s.cached(ctx, id); ok {
		return doc, nil
	}
	doc, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	s.store(ctx, doc)
	return doc, nil
}

// Create inserts a new document with a generated id for the CRUD create path.
func (s *Service) Create(ctx context.Context, title string, content json.RawMessage) (*models.Document, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = models.DefaultTitle
	}
	if len(content) == 0 {
		content = models.EmptyContent
	}
	now := time.Now().UTC()
	doc := &models.Document{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, string(doc.Content), doc.CreatedAt, doc.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

func (s *Service) fetch(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, content, created_at, updated_at FROM documents WHERE id = ?`,
		id,
	).Scan(&doc.ID, &doc.Title, &content, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	if content == "" {
		doc.Content = models.EmptyContent
	} else {
		doc.Content = json.RawMessage(content)
	}
	return &doc, nil
}

func cacheKey(id string) string {
	return "codocs:doc:" + id
}

func (s *Service) cached(ctx context.Context, id string) (*models.Document, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, cacheKey(id))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			log.Printf("document cache get failed: %v", err)
		}
		return nil, false
	}
	var doc models.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		log.Printf("document cache decode failed: %v", err)
		return nil, false
	}
	return &doc, true
}

func (s *Service) store(ctx context.Context, doc *models.Document) {
	if s.cache == nil || doc == nil {
		return
	}
	data, err := json.Marshal(doc)
	if err != nil {
		log.Printf("document cache encode failed: %v", err)
		return
	}
	if err := s.cache.Set(ctx, cacheKey(doc.ID), data, cacheTTL); err != nil {
		log.Printf("document cache set failed: %v", err)
	}
}

func (s *Service) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cacheKey(id)); err != nil {
		log.Printf("document cache del failed: %v", err)
	}
}
