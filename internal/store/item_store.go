package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/vbonduro/cubby/internal/domain"
)

type ItemStore struct {
	q       Querier
	scope   domain.Scope
	history *HistoryStore
}

var itemSelectColumns = []string{
	"i.id", "i.location_id", "i.title", "i.description", "i.photo_file_name",
	"i.emoji", "i.is_pending_ai_emoji", "i.tags", "i.created_at", "i.modified_at",
}

var itemColumns = []string{
	"location_id", "title", "description", "photo_file_name", "emoji",
	"is_pending_ai_emoji", "tags", "created_at", "modified_at",
}

// ItemFilter narrows ItemStore.List. Zero values are ignored.
type ItemFilter struct {
	HomeID       *uuid.UUID
	LocationID   *uuid.UUID
	Query        string
	Tag          string
	PendingEmoji bool
	Limit        uint64
}

func (s *ItemStore) Create(ctx context.Context, item *domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	stampDefaults(&item.CreatedAt, &item.ModifiedAt)
	item.Scope = s.scope

	tags, err := encodeTags(item.Tags)
	if err != nil {
		return nil, err
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO items (id, location_id, title, description, photo_file_name, emoji, is_pending_ai_emoji, tags, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID.String(), item.LocationID.String(), item.Title, item.Description, item.PhotoFileName,
		item.Emoji, item.IsPendingAiEmoji, tags, item.CreatedAt, item.ModifiedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	if err := s.history.Record(ctx, domain.EntityItem, item.ID.String(), OpInsert, itemColumns); err != nil {
		return nil, err
	}

	return s.GetByID(ctx, item.ID)
}

func (s *ItemStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.InventoryItem, error) {
	query, args, err := sq.Select(itemSelectColumns...).From("items i").
		Where(sq.Eq{"i.id": id.String()}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build item query: %w", err)
	}

	item, err := s.scan(s.q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	return item, nil
}

// likeEscaper makes user input match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// List returns items matching every set field of f, ordered by title.
func (s *ItemStore) List(ctx context.Context, f ItemFilter) ([]*domain.InventoryItem, error) {
	b := sq.Select(itemSelectColumns...).From("items i").OrderBy("i.title COLLATE NOCASE ASC", "i.id ASC")

	if f.HomeID != nil {
		b = b.Join("locations l ON l.id = i.location_id").Where(sq.Eq{"l.home_id": f.HomeID.String()})
	}
	if f.LocationID != nil {
		b = b.Where(sq.Eq{"i.location_id": f.LocationID.String()})
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(q)) + "%"
		b = b.Where(sq.Or{
			sq.Expr(`LOWER(i.title) LIKE ? ESCAPE '\'`, pattern),
			sq.Expr(`LOWER(i.description) LIKE ? ESCAPE '\'`, pattern),
		})
	}
	if f.Tag != "" {
		b = b.Where("EXISTS (SELECT 1 FROM json_each(i.tags) WHERE json_each.value = ?)", domain.NormalizeTag(f.Tag))
	}
	if f.PendingEmoji {
		b = b.Where(sq.Eq{"i.is_pending_ai_emoji": 1})
	}
	if f.Limit > 0 {
		b = b.Limit(f.Limit)
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build item query: %w", err)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var items []*domain.InventoryItem
	for rows.Next() {
		item, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}

	return items, nil
}

func (s *ItemStore) scan(row rowScanner) (*domain.InventoryItem, error) {
	item := &domain.InventoryItem{Scope: s.scope}
	var tags string
	if err := row.Scan(&item.ID, &item.LocationID, &item.Title, &item.Description, &item.PhotoFileName,
		&item.Emoji, &item.IsPendingAiEmoji, &tags, &item.CreatedAt, &item.ModifiedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &item.Tags); err != nil {
		return nil, fmt.Errorf("invalid tags %q: %w", tags, err)
	}
	return item, nil
}

// Update writes every mutable field of item and records only the columns
// whose value actually changed. An update that changes nothing is a no-op.
func (s *ItemStore) Update(ctx context.Context, item *domain.InventoryItem) error {
	current, err := s.GetByID(ctx, item.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return &notFoundError{what: "item"}
	}

	changed := diffItem(current, item)
	if len(changed) == 0 {
		return nil
	}

	tags, err := encodeTags(item.Tags)
	if err != nil {
		return err
	}

	item.ModifiedAt = now()
	_, err = s.q.ExecContext(ctx, `
		UPDATE items SET location_id = ?, title = ?, description = ?, photo_file_name = ?, emoji = ?,
			is_pending_ai_emoji = ?, tags = ?, modified_at = ?
		WHERE id = ?
	`, item.LocationID.String(), item.Title, item.Description, item.PhotoFileName, item.Emoji,
		item.IsPendingAiEmoji, tags, item.ModifiedAt, item.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}

	return s.history.Record(ctx, domain.EntityItem, item.ID.String(), OpUpdate, append(changed, "modified_at"))
}

func diffItem(a, b *domain.InventoryItem) []string {
	var changed []string
	if a.LocationID != b.LocationID {
		changed = append(changed, "location_id")
	}
	if a.Title != b.Title {
		changed = append(changed, "title")
	}
	if a.Description != b.Description {
		changed = append(changed, "description")
	}
	if a.PhotoFileName != b.PhotoFileName {
		changed = append(changed, "photo_file_name")
	}
	if a.Emoji != b.Emoji {
		changed = append(changed, "emoji")
	}
	if a.IsPendingAiEmoji != b.IsPendingAiEmoji {
		changed = append(changed, "is_pending_ai_emoji")
	}
	if !equalTags(a.Tags, b.Tags) {
		changed = append(changed, "tags")
	}
	return changed
}

func equalTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *ItemStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if err := affected(result, "item"); err != nil {
		return err
	}
	return s.history.Record(ctx, domain.EntityItem, id.String(), OpDelete, nil)
}

// Put inserts or overwrites item verbatim, recording the given columns.
func (s *ItemStore) Put(ctx context.Context, item *domain.InventoryItem, columns []string) error {
	tags, err := encodeTags(item.Tags)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO items (id, location_id, title, description, photo_file_name, emoji, is_pending_ai_emoji, tags, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			location_id = excluded.location_id,
			title = excluded.title,
			description = excluded.description,
			photo_file_name = excluded.photo_file_name,
			emoji = excluded.emoji,
			is_pending_ai_emoji = excluded.is_pending_ai_emoji,
			tags = excluded.tags,
			modified_at = excluded.modified_at
	`, item.ID.String(), item.LocationID.String(), item.Title, item.Description, item.PhotoFileName,
		item.Emoji, item.IsPendingAiEmoji, tags, item.CreatedAt, item.ModifiedAt)
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return s.history.Record(ctx, domain.EntityItem, item.ID.String(), OpUpdate, columns)
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to encode tags: %w", err)
	}
	return string(b), nil
}
