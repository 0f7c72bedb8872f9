package settings

import (
	"encoding/json"

	"go.uber.org/zap"

	"nl2sqlgen-client/internal/models"
)

// Fixed storage keys, one record per configuration fragment
const (
	keyDBConfig       = "nl2sql_db_config"
	keyLLMConfig      = "nl2sql_llm_config"
	keyGenerateConfig = "nl2sql_generate_config"
	keyRemember       = "nl2sql_remember_settings"
)

// Service saves and restores the last-used configuration fragments. Secrets
// (db password, LLM API key) are stripped by callers and cleared again here
// before anything is written; they are never persisted.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a settings service on top of a key-value store
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger.Named("settings")}
}

// Remember reports whether the user opted into saving configurations
func (s *Service) Remember() bool {
	v, ok, err := s.store.Get(keyRemember)
	if err != nil {
		s.logger.Warn("failed to read remember flag", zap.Error(err))
		return false
	}
	return ok && v == "true"
}

// SetRemember toggles configuration saving. Disabling leaves previously
// saved records untouched.
func (s *Service) SetRemember(remember bool) error {
	value := "false"
	if remember {
		value = "true"
	}
	return s.store.Set(keyRemember, value)
}

// SaveDatabase persists the database configuration without its password
func (s *Service) SaveDatabase(cfg models.DatabaseConfig) error {
	return s.save(keyDBConfig, cfg.Redacted())
}

// LoadDatabase merges a previously saved database configuration over the
// given defaults. Absent or corrupt data leaves the defaults unchanged.
func (s *Service) LoadDatabase(defaults models.DatabaseConfig) models.DatabaseConfig {
	s.load(keyDBConfig, &defaults)
	return defaults
}

// SaveLLM persists the LLM configuration without its API key
func (s *Service) SaveLLM(cfg models.LLMConfig) error {
	return s.save(keyLLMConfig, cfg.Redacted())
}

// LoadLLM merges a previously saved LLM configuration over the given defaults
func (s *Service) LoadLLM(defaults models.LLMConfig) models.LLMConfig {
	s.load(keyLLMConfig, &defaults)
	return defaults
}

// SaveGenerate persists the generation parameters (no secrets to strip)
func (s *Service) SaveGenerate(cfg models.GenerateConfig) error {
	return s.save(keyGenerateConfig, cfg)
}

// LoadGenerate merges previously saved generation parameters over the defaults
func (s *Service) LoadGenerate(defaults models.GenerateConfig) models.GenerateConfig {
	s.load(keyGenerateConfig, &defaults)
	return defaults
}

// SaveTask persists all three fragments of a task configuration
func (s *Service) SaveTask(cfg models.TaskConfig) error {
	if err := s.SaveDatabase(cfg.DB); err != nil {
		return err
	}
	if err := s.SaveLLM(cfg.LLM); err != nil {
		return err
	}
	return s.SaveGenerate(cfg.Generate)
}

// ClearAll erases every stored settings record including the remember flag
func (s *Service) ClearAll() error {
	for _, key := range []string{keyDBConfig, keyLLMConfig, keyGenerateConfig, keyRemember} {
		if err := s.store.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) save(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.store.Set(key, string(data))
}

// load unmarshals the stored record into target, which already holds the
// caller's defaults. Missing fields in the stored JSON keep their defaults;
// corrupt data is treated as absent.
func (s *Service) load(key string, target interface{}) {
	raw, ok, err := s.store.Get(key)
	if err != nil {
		s.logger.Warn("failed to load setting", zap.String("key", key), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		s.logger.Warn("ignoring corrupt setting", zap.String("key", key), zap.Error(err))
	}
}
