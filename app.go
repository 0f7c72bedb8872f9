package main

import (
	"context"
	"fmt"
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	"nl2sqlgen-client/internal/api"
	"nl2sqlgen-client/internal/config"
	"nl2sqlgen-client/internal/crypto"
	"nl2sqlgen-client/internal/database"
	"nl2sqlgen-client/internal/models"
	"nl2sqlgen-client/internal/services/artifacts"
	"nl2sqlgen-client/internal/services/history"
	"nl2sqlgen-client/internal/services/orchestrator"
	"nl2sqlgen-client/internal/services/scheduler"
	"nl2sqlgen-client/internal/settings"
	"nl2sqlgen-client/internal/stream"
)

// App wires the client services together and exposes the operations the
// frontends (CLI today) call.
type App struct {
	ctx    context.Context
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB

	apiClient    *api.Client
	streamClient *stream.Client
	settings     *settings.Service
	orchestrator *orchestrator.Service
	scheduler    *scheduler.Service
	history      *history.Service
}

// NewApp creates an unwired application; call startup before use
func NewApp() *App {
	return &App{}
}

// startup builds every service. Called once before any bound method.
func (a *App) startup(ctx context.Context, cfg *config.Config) error {
	a.ctx = ctx
	a.cfg = cfg

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %v", err)
	}
	a.logger = logger

	// Encryption guards scheduled-job credentials; without it the app still
	// works, scheduling is just unavailable.
	if err := crypto.InitEncryption(); err != nil {
		log.Printf("WARNING: Encryption initialization failed: %v (scheduled runs disabled)", err)
	}

	db, err := database.Init(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize settings database: %w", err)
	}
	a.db = db

	a.apiClient = api.NewClient(cfg.ServerURL)
	a.streamClient = stream.NewClient(cfg.WebSocketURL, logger)
	a.settings = settings.NewService(settings.NewGormStore(db), logger)

	a.orchestrator = orchestrator.NewService(
		ctx,
		a.apiClient,
		streamOpener{a.streamClient},
		a.settings,
		logger,
	)

	a.history = history.NewService(db, logger)
	if err := a.history.Start(); err != nil {
		logger.Warn("failed to start run history", zap.Error(err))
	} else {
		a.orchestrator.Subscribe(a.history.Observe)
	}

	a.scheduler = scheduler.NewService(db, a.orchestrator, logger)
	if crypto.IsInitialized() {
		if err := a.scheduler.Start(); err != nil {
			logger.Warn("failed to start scheduler", zap.Error(err))
		}
	}

	logger.Info("startup complete", zap.String("server", cfg.ServerURL))
	return nil
}

// shutdown releases every resource startup acquired
func (a *App) shutdown() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.orchestrator != nil {
		a.orchestrator.Close()
	}
	if err := database.Close(); err != nil && a.logger != nil {
		a.logger.Warn("error closing settings database", zap.Error(err))
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// streamOpener adapts stream.Client to the orchestrator's StreamOpener
type streamOpener struct {
	client *stream.Client
}

func (o streamOpener) Open(onEvent func(models.JobEvent), onErr func(error)) (orchestrator.StreamHandle, error) {
	conn, err := o.client.Open(onEvent, onErr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ====================================================================================
// BOUND METHODS
// ====================================================================================

// TestDatabaseConnection probes the source database configuration
func (a *App) TestDatabaseConnection(cfg models.DatabaseConfig) api.ProbeResult {
	return a.apiClient.TestDatabaseConnection(a.ctx, cfg)
}

// TestLLMConnection probes the model endpoint configuration
func (a *App) TestLLMConnection(cfg models.LLMConfig) api.ProbeResult {
	return a.apiClient.TestLLMConnection(a.ctx, cfg)
}

// StartGeneration validates and submits a generation run
func (a *App) StartGeneration(cfg models.TaskConfig) (string, error) {
	return a.orchestrator.Submit(cfg)
}

// CancelGeneration cancels the active run, if any
func (a *App) CancelGeneration() error {
	return a.orchestrator.Cancel()
}

// GetJobState returns the current run projection
func (a *App) GetJobState() orchestrator.Snapshot {
	return a.orchestrator.GetState()
}

// SubscribeJobState registers a listener for state changes
func (a *App) SubscribeJobState(listener func(orchestrator.Snapshot)) {
	a.orchestrator.Subscribe(listener)
}

// EnabledArtifacts lists the artifacts the current state allows downloading
func (a *App) EnabledArtifacts() []artifacts.Kind {
	return artifacts.EnabledArtifacts(a.orchestrator.GetState())
}

// DownloadArtifact fetches one artifact to destPath, refusing kinds the
// current run state does not enable
func (a *App) DownloadArtifact(kind artifacts.Kind, destPath string) error {
	return artifacts.Fetch(a.ctx, a.apiClient, a.orchestrator.GetState(), kind, destPath)
}

// Health reports backend liveness
func (a *App) Health() bool {
	return a.apiClient.Health(a.ctx)
}

// Settings

// RememberSettings reports whether configurations are being saved
func (a *App) RememberSettings() bool {
	return a.settings.Remember()
}

// SetRememberSettings toggles configuration saving
func (a *App) SetRememberSettings(remember bool) error {
	return a.settings.SetRemember(remember)
}

// LoadSavedTask merges saved configuration fragments over the given defaults
func (a *App) LoadSavedTask(defaults models.TaskConfig) models.TaskConfig {
	defaults.DB = a.settings.LoadDatabase(defaults.DB)
	defaults.LLM = a.settings.LoadLLM(defaults.LLM)
	defaults.Generate = a.settings.LoadGenerate(defaults.Generate)
	return defaults
}

// ClearSavedSettings erases every stored settings record
func (a *App) ClearSavedSettings() error {
	return a.settings.ClearAll()
}

// History

// ListRunHistory returns the most recent recorded run outcomes, newest first
func (a *App) ListRunHistory(limit int) ([]models.RunRecord, error) {
	return a.history.ListRuns(limit)
}

// ClearRunHistory removes every recorded run outcome
func (a *App) ClearRunHistory() error {
	return a.history.ClearHistory()
}

// Scheduler

// ListScheduledJobs retrieves all scheduled generation runs
func (a *App) ListScheduledJobs() ([]scheduler.JobListResponse, error) {
	return a.scheduler.ListJobs()
}

// UpsertScheduledJob creates or updates a scheduled generation run
func (a *App) UpsertScheduledJob(req scheduler.UpsertJobRequest) (string, error) {
	return a.scheduler.UpsertJob(req)
}

// DeleteScheduledJob removes a scheduled generation run
func (a *App) DeleteScheduledJob(jobID string) error {
	return a.scheduler.DeleteJob(jobID)
}

func buildLogger(level string) (*zap.Logger, error) {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	return zapCfg.Build()
}
