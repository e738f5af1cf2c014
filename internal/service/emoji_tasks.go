package service

import (
	"context"
	"errors"
	"time"

	"github.com/vbonduro/cubby/internal/domain"
	"github.com/vbonduro/cubby/internal/store"
)

const emojiTimeout = 30 * time.Second

// ResumePendingEmoji restarts suggestions for items still waiting on one,
// e.g. after the process restarted mid-request.
func (s *InventoryService) ResumePendingEmoji(ctx context.Context) error {
	if s.emoji == nil {
		return nil
	}
	items, err := s.ListItems(ctx, store.ItemFilter{PendingEmoji: true})
	if err != nil {
		return err
	}
	for _, item := range items {
		s.suggestEmojiAsync(item)
	}
	if len(items) > 0 {
		s.logger.Info("resumed pending emoji suggestions", "count", len(items))
	}
	return nil
}

func (s *InventoryService) suggestEmojiAsync(item *domain.InventoryItem) {
	if s.emoji == nil {
		return
	}
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		ctx, cancel := context.WithTimeout(s.tasksCtx, emojiTimeout)
		defer cancel()
		s.suggestEmoji(ctx, item)
	}()
}

func (s *InventoryService) suggestEmoji(ctx context.Context, item *domain.InventoryItem) {
	suggested, err := s.emoji.Suggest(ctx, item.Title, item.Description)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("emoji suggestion failed", "item_id", item.ID, "error", err)
		}
		return
	}

	st := s.stores.Store(item.Scope)
	if st == nil {
		return
	}
	err = st.Update(ctx, func(set *store.Set) error {
		current, err := set.Items.GetByID(ctx, item.ID)
		if err != nil {
			return err
		}
		// Deleted, or the user picked an emoji in the meantime.
		if current == nil || !current.IsPendingAiEmoji {
			return nil
		}
		current.Emoji = suggested
		current.IsPendingAiEmoji = false
		return set.Items.Update(ctx, current)
	})
	if err != nil {
		s.logger.Error("failed to store emoji suggestion", "item_id", item.ID, "error", err)
		return
	}
	s.logger.Debug("emoji suggested", "item_id", item.ID, "emoji", suggested)
}
