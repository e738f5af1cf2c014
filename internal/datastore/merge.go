package datastore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/vbonduro/cubby/internal/domain"
	"github.com/vbonduro/cubby/internal/store"
)

// ApplyResult counts what ApplyRemote did with a batch.
type ApplyResult struct {
	Applied int
	Skipped int
}

// ApplyRemote writes records received from the cloud container using the
// property-object-trump policy: on a row with unexported local edits, every
// locally edited property keeps its local value and the rest take the
// server's. Remote deletes of locally edited rows are dropped, as are
// remote updates of rows deleted locally. The batch is one transaction.
func (s *Store) ApplyRemote(ctx context.Context, records []domain.Record) (ApplyResult, error) {
	var result ApplyResult
	ordered := orderRecords(records)

	err := s.write(ctx, store.OriginRemote, func(set *store.Set) error {
		result = ApplyResult{}
		for _, r := range ordered {
			applied, err := applyRecord(ctx, set, r)
			if err != nil {
				return fmt.Errorf("failed to apply %s %s: %w", r.Entity, r.ID, err)
			}
			if applied {
				result.Applied++
			} else {
				result.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}
	return result, nil
}

// orderRecords puts upserts parents first and deletes children first so
// foreign keys hold at every step.
func orderRecords(records []domain.Record) []domain.Record {
	rank := func(r domain.Record) int {
		var base int
		switch r.Entity {
		case domain.EntityHome:
			base = 0
		case domain.EntityLocation:
			base = 1
			if d, err := strconv.Atoi(r.Fields["depth"]); err == nil {
				base += d
			}
		default:
			base = domain.MaxLocationDepth + 2
		}
		if r.Deleted {
			return 1000 - base
		}
		return base
	}

	out := make([]domain.Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Deleted != out[j].Deleted {
			return !out[i].Deleted
		}
		return rank(out[i]) < rank(out[j])
	})
	return out
}

func applyRecord(ctx context.Context, set *store.Set, r domain.Record) (bool, error) {
	pending, err := set.History.PendingEditsFor(ctx, r.Entity, r.ID)
	if err != nil {
		return false, err
	}

	if r.Deleted {
		if pending.Any() {
			return false, nil
		}
		return deleteRecord(ctx, set, r)
	}
	if pending.Deleted {
		return false, nil
	}

	current, err := currentRecord(ctx, set, r)
	if err != nil {
		return false, err
	}

	merged := domain.Record{Entity: r.Entity, ID: r.ID, Fields: map[string]string{}, ModifiedAt: r.ModifiedAt}
	for k, v := range r.Fields {
		merged.Fields[k] = v
	}
	if current != nil {
		for col := range pending.Columns {
			if v, ok := current.Fields[col]; ok {
				merged.Fields[col] = v
			}
		}
	}

	columns := changedColumns(current, merged)
	if len(columns) == 0 {
		return false, nil
	}
	return true, putRecord(ctx, set, merged, columns)
}

func changedColumns(current *domain.Record, merged domain.Record) []string {
	var columns []string
	for k, v := range merged.Fields {
		if current == nil || current.Fields[k] != v {
			columns = append(columns, k)
		}
	}
	sort.Strings(columns)
	return columns
}

func currentRecord(ctx context.Context, set *store.Set, r domain.Record) (*domain.Record, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid record id: %w", err)
	}

	var rec domain.Record
	switch r.Entity {
	case domain.EntityHome:
		h, err := set.Homes.GetByID(ctx, id)
		if err != nil || h == nil {
			return nil, err
		}
		rec = h.Record()
	case domain.EntityLocation:
		l, err := set.Locations.GetByID(ctx, id)
		if err != nil || l == nil {
			return nil, err
		}
		rec = l.Record()
	case domain.EntityItem:
		i, err := set.Items.GetByID(ctx, id)
		if err != nil || i == nil {
			return nil, err
		}
		rec = i.Record()
	default:
		return nil, fmt.Errorf("unsupported entity %q", r.Entity)
	}
	return &rec, nil
}

func putRecord(ctx context.Context, set *store.Set, r domain.Record, columns []string) error {
	switch r.Entity {
	case domain.EntityHome:
		h, err := domain.HomeFromRecord(r)
		if err != nil {
			return err
		}
		return set.Homes.Put(ctx, h, columns)
	case domain.EntityLocation:
		l, err := domain.LocationFromRecord(r)
		if err != nil {
			return err
		}
		return set.Locations.Put(ctx, l, columns)
	case domain.EntityItem:
		i, err := domain.ItemFromRecord(r)
		if err != nil {
			return err
		}
		return set.Items.Put(ctx, i, columns)
	}
	return fmt.Errorf("unsupported entity %q", r.Entity)
}

func deleteRecord(ctx context.Context, set *store.Set, r domain.Record) (bool, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return false, fmt.Errorf("invalid record id: %w", err)
	}

	switch r.Entity {
	case domain.EntityHome:
		err = set.Homes.Delete(ctx, id)
	case domain.EntityLocation:
		err = set.Locations.Delete(ctx, id)
	case domain.EntityItem:
		err = set.Items.Delete(ctx, id)
	default:
		return false, fmt.Errorf("unsupported entity %q", r.Entity)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
