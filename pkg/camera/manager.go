package camera

import (
	"context"
	"fmt"
	"sync"
)

// Setter pushes a parameter to the device. *Client implements it.
type Setter interface {
	Set(ctx context.Context, p Param, v int) error
}

// Manager holds the last-known-good settings and applies changes.
// A value is stored only after the device accepted it.
type Manager struct {
	settings Settings
	device   Setter
	mu       sync.RWMutex

	// serializes device writes so stored order matches request order
	applyMu sync.Mutex

	// Callback after a value has been stored
	OnChange func(s Settings)
}

// NewManager creates a new manager with default settings.
func NewManager(device Setter) *Manager {
	return &Manager{
		settings: DefaultSettings(),
		device:   device,
	}
}

// Settings returns the current settings.
func (m *Manager) Settings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Apply validates v, sends it to the device and stores it on success.
// On failure the previous value is kept and no rollback is sent.
func (m *Manager) Apply(ctx context.Context, p Param, v int) error {
	if err := p.Validate(v); err != nil {
		return err
	}

	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	if err := m.device.Set(ctx, p, v); err != nil {
		return fmt.Errorf("failed to apply %s=%d: %w", p, v, err)
	}

	m.mu.Lock()
	m.settings = m.settings.With(p, v)
	s := m.settings
	callback := m.OnChange
	m.mu.Unlock()

	if callback != nil {
		callback(s)
	}
	return nil
}

// ApplyNamed is Apply with the parameter given by name.
func (m *Manager) ApplyNamed(ctx context.Context, name string, v int) error {
	p, err := ParseParam(name)
	if err != nil {
		return err
	}
	return m.Apply(ctx, p, v)
}
