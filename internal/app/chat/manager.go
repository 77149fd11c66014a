/*
Package chat contains the server-side core of the group messaging engine:
group hubs, connected clients, and the frame protocol spoken over the
real-time channel.

This file defines the Manager struct, which tracks every live Group hub.
Hubs are created lazily on first connection and removed once their Run loop
exits (inactivity or shutdown); the durable record of a group lives in the
membership directory, not here.
*/
package chat

import (
	"sync"

	"github.com/rs/zerolog"

	"collabchat/internal/pkg/logx"
)

// Manager coordinates all active group hubs.
type Manager struct {
	// groups stores the live hubs, keyed by group code.
	groups map[string]*Group

	// mu protects concurrent access to the groups map.
	mu sync.RWMutex

	// the channel used by hubs to notify the Manager to clean up and remove them.
	cleanup chan GroupCleanupMsg

	// wg is used to wait for the runCleanupLoop goroutine to finish during shutdown.
	wg sync.WaitGroup

	// structured logger with Manager context.
	logger zerolog.Logger
}

// NewManager constructs and returns a new Manager instance.
func NewManager() *Manager {
	managerLogger := logx.Logger().With().Str("component", "Manager").Logger()

	m := &Manager{
		groups:  make(map[string]*Group),
		cleanup: make(chan GroupCleanupMsg, 10),
		logger:  managerLogger,
	}

	m.wg.Add(1)

	go m.runCleanupLoop()

	return m
}

// runCleanupLoop is a blocking loop that listens on the cleanup channel.
// When a GroupCleanupMsg is received, it removes the corresponding hub.
func (m *Manager) runCleanupLoop() {
	defer m.wg.Done()

	m.logger.Info().Msg("Cleanup loop started.")

	for msg := range m.cleanup {
		m.deleteGroup(msg.GroupCode)
	}

	m.logger.Info().Msg("Cleanup loop stopped.")
}

// deleteGroup removes the specified hub from the Manager's groups map.
func (m *Manager) deleteGroup(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[code]; ok {
		delete(m.groups, code)
		m.logger.Info().Str("group_code", code).Msg("Group hub removed.")
	}
}

// Hub returns the live hub for a group code, creating and starting it if
// none is running. Double-checked locking keeps creation race-free.
func (m *Manager) Hub(code string) *Group {
	m.mu.RLock()
	group, ok := m.groups[code]
	m.mu.RUnlock()

	if ok {
		return group
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if group, ok = m.groups[code]; ok {
		return group
	}

	group = NewGroup(code, m.cleanup)
	m.groups[code] = group

	go group.Run()

	m.logger.Info().Str("group_code", code).Msg("New group hub created and started.")
	return group
}

// Get retrieves a live hub by group code, or nil if none is running.
func (m *Manager) Get(code string) *Group {
	m.mu.RLock()
	defer m.mu.RUnlock()

	group, ok := m.groups[code]
	if !ok {
		return nil
	}
	return group
}

// Shutdown gracefully shuts down the Manager and all live hubs.
// It stops all hub Run loops, closes the cleanup channel, and waits for the
// cleanup goroutine to exit.
func (m *Manager) Shutdown() {
	m.logger.Info().Msg("Shutting down Manager cleanup loop...")

	m.mu.Lock()

	for _, group := range m.groups {
		group.Stop()
	}
	m.groups = nil

	m.mu.Unlock()

	close(m.cleanup)
	m.wg.Wait()

	m.logger.Info().Msg("Manager shutdown complete.")
}
