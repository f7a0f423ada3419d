package generation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Model gates a backend behind an explicit load state machine.
// Generate only succeeds in StateReady.
type Model struct {
	backend Backend
	logger  *zap.Logger

	mu          sync.RWMutex
	state       State
	modelPath   string
	lastErr     error
	loadTime    time.Duration
	generations int64
	failures    int64
}

// NewModel creates a model in StateNotLoaded
func NewModel(backend Backend, logger *zap.Logger) *Model {
	return &Model{
		backend: backend,
		logger:  logger,
		state:   StateNotLoaded,
	}
}

// State returns the current load state
func (m *Model) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Ready reports whether Generate can be called
func (m *Model) Ready() bool {
	return m.State() == StateReady
}

// Load loads modelPath. Loading the already loaded path is a no-op; a
// failed load can be retried.
func (m *Model) Load(ctx context.Context, modelPath string) error {
	m.mu.Lock()
	switch {
	case m.state == StateLoading:
		m.mu.Unlock()
		return ErrModelLoading
	case m.state == StateReady && m.modelPath == modelPath:
		m.mu.Unlock()
		return nil
	}
	m.state = StateLoading
	m.modelPath = modelPath
	m.lastErr = nil
	m.mu.Unlock()

	m.logger.Info("Loading generation model",
		zap.String("backend", m.backend.Name()),
		zap.String("model", modelPath),
	)

	start := time.Now()
	err := m.backend.Load(ctx, modelPath)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.state = StateFailed
		m.lastErr = err
		m.logger.Error("Failed to load generation model", zap.String("model", modelPath), zap.Error(err))
		return wrapError(ErrLoadFailed, err)
	}

	m.state = StateReady
	m.loadTime = time.Since(start)
	m.logger.Info("Generation model ready",
		zap.String("model", modelPath),
		zap.Duration("load_time", m.loadTime),
	)
	return nil
}

// Generate runs the backend. It fails with ErrModelNotLoaded unless the
// model is ready.
func (m *Model) Generate(ctx context.Context, params Params) (string, error) {
	if !m.Ready() {
		return "", ErrModelNotLoaded
	}

	out, err := m.backend.Generate(ctx, params)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.failures++
		return "", wrapError(ErrGenerationFailed, err)
	}
	m.generations++
	return out, nil
}

// Status returns a snapshot for reporting
func (m *Model) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{
		State:       m.state,
		Backend:     m.backend.Name(),
		ModelPath:   m.modelPath,
		LoadTime:    m.loadTime,
		Generations: m.generations,
		Failures:    m.failures,
	}
	if m.lastErr != nil {
		status.Error = m.lastErr.Error()
	}
	return status
}

// Close releases the backend and returns the model to StateNotLoaded
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateNotLoaded
	return m.backend.Close()
}
