package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Entity names used in history rows and cloud records.
const (
	EntityHome     = "home"
	EntityLocation = "location"
	EntityItem     = "item"
	EntityShare    = "share"
)

// Record is the storage-neutral form of one row, exchanged with the cloud
// container. Field keys are store column names; values are strings so the
// record survives any wire encoding unchanged.
type Record struct {
	Entity     string            `json:"entity"`
	ID         string            `json:"id"`
	Deleted    bool              `json:"deleted,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	ModifiedAt time.Time         `json:"modified_at"`
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(fields map[string]string, key string) (time.Time, error) {
	v, ok := fields[key]
	if !ok || v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %s: %w", key, err)
	}
	return t, nil
}

func (h *Home) Record() Record {
	return Record{
		Entity: EntityHome,
		ID:     h.ID.String(),
		Fields: map[string]string{
			"name":        h.Name,
			"created_at":  formatTime(h.CreatedAt),
			"modified_at": formatTime(h.ModifiedAt),
		},
		ModifiedAt: h.ModifiedAt,
	}
}

func HomeFromRecord(r Record) (*Home, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("home id: %w", err)
	}
	created, err := parseTime(r.Fields, "created_at")
	if err != nil {
		return nil, err
	}
	modified, err := parseTime(r.Fields, "modified_at")
	if err != nil {
		return nil, err
	}
	return &Home{ID: id, Name: r.Fields["name"], CreatedAt: created, ModifiedAt: modified}, nil
}

func (l *StorageLocation) Record() Record {
	parent := ""
	if l.ParentID != nil {
		parent = l.ParentID.String()
	}
	return Record{
		Entity: EntityLocation,
		ID:     l.ID.String(),
		Fields: map[string]string{
			"home_id":     l.HomeID.String(),
			"parent_id":   parent,
			"name":        l.Name,
			"depth":       strconv.Itoa(l.Depth),
			"created_at":  formatTime(l.CreatedAt),
			"modified_at": formatTime(l.ModifiedAt),
		},
		ModifiedAt: l.ModifiedAt,
	}
}

func LocationFromRecord(r Record) (*StorageLocation, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("location id: %w", err)
	}
	homeID, err := uuid.Parse(r.Fields["home_id"])
	if err != nil {
		return nil, fmt.Errorf("location home_id: %w", err)
	}
	loc := &StorageLocation{ID: id, HomeID: homeID, Name: r.Fields["name"]}
	if p := r.Fields["parent_id"]; p != "" {
		parentID, err := uuid.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("location parent_id: %w", err)
		}
		loc.ParentID = &parentID
	}
	if d := r.Fields["depth"]; d != "" {
		if loc.Depth, err = strconv.Atoi(d); err != nil {
			return nil, fmt.Errorf("location depth: %w", err)
		}
	}
	if loc.CreatedAt, err = parseTime(r.Fields, "created_at"); err != nil {
		return nil, err
	}
	if loc.ModifiedAt, err = parseTime(r.Fields, "modified_at"); err != nil {
		return nil, err
	}
	return loc, nil
}

func (i *InventoryItem) Record() Record {
	tags, _ := json.Marshal(nonNilTags(i.Tags))
	return Record{
		Entity: EntityItem,
		ID:     i.ID.String(),
		Fields: map[string]string{
			"location_id":         i.LocationID.String(),
			"title":               i.Title,
			"description":         i.Description,
			"photo_file_name":     i.PhotoFileName,
			"emoji":               i.Emoji,
			"is_pending_ai_emoji": strconv.FormatBool(i.IsPendingAiEmoji),
			"tags":                string(tags),
			"created_at":          formatTime(i.CreatedAt),
			"modified_at":         formatTime(i.ModifiedAt),
		},
		ModifiedAt: i.ModifiedAt,
	}
}

func ItemFromRecord(r Record) (*InventoryItem, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("item id: %w", err)
	}
	locationID, err := uuid.Parse(r.Fields["location_id"])
	if err != nil {
		return nil, fmt.Errorf("item location_id: %w", err)
	}
	item := &InventoryItem{
		ID:            id,
		LocationID:    locationID,
		Title:         r.Fields["title"],
		Description:   r.Fields["description"],
		PhotoFileName: r.Fields["photo_file_name"],
		Emoji:         r.Fields["emoji"],
	}
	if v := r.Fields["is_pending_ai_emoji"]; v != "" {
		if item.IsPendingAiEmoji, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("item is_pending_ai_emoji: %w", err)
		}
	}
	if v := r.Fields["tags"]; v != "" {
		if err := json.Unmarshal([]byte(v), &item.Tags); err != nil {
			return nil, fmt.Errorf("item tags: %w", err)
		}
	}
	if item.CreatedAt, err = parseTime(r.Fields, "created_at"); err != nil {
		return nil, err
	}
	if item.ModifiedAt, err = parseTime(r.Fields, "modified_at"); err != nil {
		return nil, err
	}
	return item, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
