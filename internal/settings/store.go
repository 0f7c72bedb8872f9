package settings

import (
	"errors"

	"gorm.io/gorm"

	"nl2sqlgen-client/internal/models"
)

// Store is the key-value capability the settings service persists through.
// Tests substitute an in-memory implementation.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// GormStore persists settings in the local sqlite database
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a settings store backed by the given database
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Get returns the stored value for key, reporting absence without error
func (s *GormStore) Get(key string) (string, bool, error) {
	var setting models.Setting
	err := s.db.Where("key = ?", key).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return setting.Value, true, nil
}

// Set writes or replaces the value for key
func (s *GormStore) Set(key, value string) error {
	setting := models.Setting{Key: key, Value: value}
	return s.db.Save(&setting).Error
}

// Delete removes the value for key; deleting a missing key is not an error
func (s *GormStore) Delete(key string) error {
	return s.db.Where("key = ?", key).Delete(&models.Setting{}).Error
}

// MemoryStore is an in-memory Store used in tests
type MemoryStore struct {
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	delete(s.values, key)
	return nil
}
