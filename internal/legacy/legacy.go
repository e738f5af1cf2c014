// Package legacy reads the inventory kept by earlier releases in a
// GORM-managed SQLite file.
package legacy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const FileName = "Legacy.sqlite"

type Home struct {
	ID         string `gorm:"primaryKey"`
	Name       string `gorm:"not null"`
	CreatedAt  time.Time
	ModifiedAt time.Time
}

func (Home) TableName() string { return "legacy_homes" }

type Location struct {
	ID         string  `gorm:"primaryKey"`
	HomeID     string  `gorm:"index;not null"`
	ParentID   *string `gorm:"index"`
	Name       string  `gorm:"not null"`
	Depth      int
	CreatedAt  time.Time
	ModifiedAt time.Time
}

func (Location) TableName() string { return "legacy_locations" }

type Item struct {
	ID               string `gorm:"primaryKey"`
	LocationID       string `gorm:"index;not null"`
	Title            string `gorm:"not null"`
	Description      string
	PhotoFileName    string
	Emoji            string
	IsPendingAiEmoji bool
	Tags             []string `gorm:"serializer:json"`
	CreatedAt        time.Time
	ModifiedAt       time.Time
}

func (Item) TableName() string { return "legacy_items" }

// Snapshot is the full legacy inventory read in one pass.
type Snapshot struct {
	Homes     []Home
	Locations []Location
	Items     []Item
}

func (s *Snapshot) Empty() bool {
	return len(s.Homes) == 0 && len(s.Locations) == 0 && len(s.Items) == 0
}

// Store is a handle on the legacy database.
type Store struct {
	db *gorm.DB
}

func newGormLogger() logger.Interface {
	return logger.New(
		slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
		logger.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// Open opens or creates the legacy database and its tables.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newGormLogger()})
	if err != nil {
		return nil, fmt.Errorf("failed to open legacy store: %w", err)
	}
	if err := db.AutoMigrate(&Home{}, &Location{}, &Item{}); err != nil {
		return nil, fmt.Errorf("failed to migrate legacy store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Snapshot reads every legacy row inside one read transaction.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Order("created_at, id").Find(&snap.Homes).Error; err != nil {
			return fmt.Errorf("failed to read legacy homes: %w", err)
		}
		if err := tx.Order("depth, created_at, id").Find(&snap.Locations).Error; err != nil {
			return fmt.Errorf("failed to read legacy locations: %w", err)
		}
		if err := tx.Order("created_at, id").Find(&snap.Items).Error; err != nil {
			return fmt.Errorf("failed to read legacy items: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Save writes snap into the legacy store, replacing rows with the same id.
func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range snap.Homes {
			if err := tx.Save(&snap.Homes[i]).Error; err != nil {
				return fmt.Errorf("failed to save legacy home: %w", err)
			}
		}
		for i := range snap.Locations {
			if err := tx.Save(&snap.Locations[i]).Error; err != nil {
				return fmt.Errorf("failed to save legacy location: %w", err)
			}
		}
		for i := range snap.Items {
			if err := tx.Save(&snap.Items[i]).Error; err != nil {
				return fmt.Errorf("failed to save legacy item: %w", err)
			}
		}
		return nil
	})
}

// FileProvider supplies snapshots from a legacy file. A missing file is an
// empty inventory, not an error.
type FileProvider struct {
	Path string
}

func (p FileProvider) Snapshot(ctx context.Context) (*Snapshot, error) {
	if _, err := os.Stat(p.Path); errors.Is(err, fs.ErrNotExist) {
		return &Snapshot{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat legacy store: %w", err)
	}

	s, err := Open(p.Path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.Close(); err != nil {
			slog.Error("failed to close legacy store", "error", err)
		}
	}()

	return s.Snapshot(ctx)
}
