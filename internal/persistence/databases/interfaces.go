package databases

import "deepresearch/internal/persistence"

// Manager holds the concrete storage backend resolved from configuration.
type Manager struct {
	Chat persistence.ChatStore
}

// Close releases any underlying connection pool. It's a no-op for the
// in-memory backend.
func (m Manager) Close() {
	if c, ok := m.Chat.(interface{ Close() }); ok {
		c.Close()
	}
}
