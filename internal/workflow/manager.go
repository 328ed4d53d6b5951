package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"easel/internal/config"
	"easel/internal/notifications"
	"easel/internal/queue"
	"easel/internal/stage"
)

// StageSet bundles the concrete workflow handlers the manager orchestrates.
type StageSet struct {
	Preparer  stage.Handler
	Generator stage.Handler
	Collector stage.Handler
}

type pipelineStage struct {
	name             string
	handler          stage.Handler
	startStatus      queue.Status
	processingStatus queue.Status
	doneStatus       queue.Status
}

// Manager coordinates queue processing using registered stage handlers.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	logger       *slog.Logger
	notifier     notifications.Service
	pollInterval time.Duration

	heartbeat *HeartbeatMonitor

	stages             []pipelineStage
	stageByStart       map[queue.Status]pipelineStage
	statusOrder        []queue.Status
	processingStatuses []queue.Status

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	lastJob *queue.Job

	queueActive    bool
	queueStart     time.Time
	queueProcessed int
	queueFailed    int
}

// NewManager constructs a new workflow manager.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Manager {
	return NewManagerWithNotifier(cfg, store, logger, notifications.NewService(cfg))
}

// NewManagerWithNotifier constructs a workflow manager with a custom
// notifier (used in tests).
func NewManagerWithNotifier(cfg *config.Config, store *queue.Store, logger *slog.Logger, notifier notifications.Service) *Manager {
	return &Manager{
		cfg:          cfg,
		store:        store,
		logger:       logger,
		notifier:     notifier,
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
	}
}

// ConfigureStages registers the prepare, generate, and collect handlers.
func (m *Manager) ConfigureStages(set StageSet) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stages = []pipelineStage{
		{
			name:             "prepare",
			handler:          set.Preparer,
			startStatus:      queue.StatusPending,
			processingStatus: queue.StatusPreparing,
			doneStatus:       queue.StatusPrepared,
		},
		{
			name:             "generate",
			handler:          set.Generator,
			startStatus:      queue.StatusPrepared,
			processingStatus: queue.StatusGenerating,
			doneStatus:       queue.StatusGenerated,
		},
		{
			name:             "collect",
			handler:          set.Collector,
			startStatus:      queue.StatusGenerated,
			processingStatus: queue.StatusCollecting,
			doneStatus:       queue.StatusCompleted,
		},
	}

	m.stageByStart = make(map[queue.Status]pipelineStage, len(m.stages))
	m.statusOrder = m.statusOrder[:0]
	m.processingStatuses = m.processingStatuses[:0]
	seenProcessing := make(map[queue.Status]struct{})
	for _, stg := range m.stages {
		m.stageByStart[stg.startStatus] = stg
		m.statusOrder = append(m.statusOrder, stg.startStatus)
		if _, ok := seenProcessing[stg.processingStatus]; !ok {
			m.processingStatuses = append(m.processingStatuses, stg.processingStatus)
			seenProcessing[stg.processingStatus] = struct{}{}
		}
	}
}

func (m *Manager) stageForStatus(status queue.Status) (pipelineStage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stg, ok := m.stageByStart[status]
	return stg, ok
}
