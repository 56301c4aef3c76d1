// Package registry is the durable store of named connection configurations.
// It keeps the single-active invariant: a non-empty registry always has
// exactly one active entry.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pgdash/model"
)

type Registry struct {
	db *gorm.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the registry database at path.
func Open(path string) (*Registry, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open registry %s: %w", path, err)
	}
	if err := db.AutoMigrate(&model.ConnectionConfig{}); err != nil {
		return nil, fmt.Errorf("migrate registry: %w", err)
	}
	return &Registry{db: db}, nil
}

func (r *Registry) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// List returns all entries in insertion order.
func (r *Registry) List() ([]model.ConnectionConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list()
}

func (r *Registry) list() ([]model.ConnectionConfig, error) {
	var list []model.ConnectionConfig
	if err := r.db.Order("position").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return list, nil
}

// Get returns the entry with the given id, or nil when absent.
func (r *Registry) Get(id string) (*model.ConnectionConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(id)
}

func (r *Registry) get(id string) (*model.ConnectionConfig, error) {
	var cfg model.ConnectionConfig
	err := r.db.First(&cfg, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get connection %s: %w", id, err)
	}
	return &cfg, nil
}

// Add registers a new entry. An empty id is assigned a UUID. When the entry
// is active, all others are deactivated in the same pass.
func (r *Registry) Add(cfg *model.ConnectionConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	var maxPos int
	r.db.Model(&model.ConnectionConfig{}).Select("coalesce(max(position), 0)").Scan(&maxPos)
	cfg.Position = maxPos + 1

	if cfg.IsActive {
		if err := r.deactivateAll(); err != nil {
			return err
		}
	}
	if err := r.db.Create(cfg).Error; err != nil {
		return fmt.Errorf("add connection: %w", err)
	}
	return r.ensureActive()
}

// Update replaces the entry with cfg.ID. A newly active entry deactivates
// all others.
func (r *Registry) Update(cfg *model.ConnectionConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.get(cfg.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("update connection: %s not found", cfg.ID)
	}
	cfg.Position = existing.Position

	if cfg.IsActive && !existing.IsActive {
		if err := r.deactivateAll(); err != nil {
			return err
		}
	}
	if err := r.db.Save(cfg).Error; err != nil {
		return fmt.Errorf("update connection: %w", err)
	}
	return r.ensureActive()
}

// Delete removes the entry with the given id; absent ids are a no-op. When
// the deleted entry was active, the first remaining entry is promoted.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.Delete(&model.ConnectionConfig{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return r.ensureActive()
}

// SetActive marks the given entry active and all others inactive.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, err := r.get(id)
	if err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("set active: connection %s not found", id)
	}
	if err := r.deactivateAll(); err != nil {
		return err
	}
	if err := r.db.Model(&model.ConnectionConfig{}).Where("id = ?", id).
		Update("is_active", true).Error; err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	return nil
}

// GetActive returns the active entry, or nil when the registry is empty.
func (r *Registry) GetActive() (*model.ConnectionConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cfg model.ConnectionConfig
	err := r.db.First(&cfg, "is_active = ?", true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// invariant repair path: promote and retry once
		if err := r.ensureActive(); err != nil {
			return nil, err
		}
		err = r.db.First(&cfg, "is_active = ?", true).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("get active connection: %w", err)
	}
	return &cfg, nil
}

func (r *Registry) deactivateAll() error {
	if err := r.db.Model(&model.ConnectionConfig{}).Where("is_active = ?", true).
		Update("is_active", false).Error; err != nil {
		return fmt.Errorf("deactivate connections: %w", err)
	}
	return nil
}

// ensureActive promotes the first entry when no entry is active. Runs after
// every mutation.
func (r *Registry) ensureActive() error {
	var count int64
	if err := r.db.Model(&model.ConnectionConfig{}).Where("is_active = ?", true).
		Count(&count).Error; err != nil {
		return fmt.Errorf("ensure active: %w", err)
	}
	if count > 0 {
		return nil
	}

	list, err := r.list()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return nil
	}
	if err := r.db.Model(&model.ConnectionConfig{}).Where("id = ?", list[0].ID).
		Update("is_active", true).Error; err != nil {
		return fmt.Errorf("ensure active: %w", err)
	}
	return nil
}
