package cache

import "time"

// Cache is the read/write surface handlers depend on.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
	Size() int
}

// Cleaner is implemented by caches that can sweep expired entries.
type Cleaner interface {
	CleanExpired() int
}

// Manager owns the background cleanup loop for registered caches.
type Manager struct {
	caches      []Cleaner
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

func NewManager() *Manager {
	return &Manager{
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

// Register adds a cache to the periodic cleanup sweep. Call before
// StartCleanup.
func (m *Manager) Register(c Cleaner) {
	m.caches = append(m.caches, c)
}

// StartCleanup begins sweeping registered caches every interval.
func (m *Manager) StartCleanup(interval time.Duration) {
	go m.cleanup(interval)
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, c := range m.caches {
				c.CleanExpired()
			}
		case <-m.stopCleanup:
			return
		}
	}
}

// Stop ends the cleanup loop and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stopCleanup)
	<-m.cleanupDone
}
