package reconcile

import (
	"sync"
	"time"
)

// PortState holds one confirmed hardware write with its timestamp.
type PortState struct {
	Enabled  bool
	SyncedAt time.Time
}

// Cache remembers the last port state this process confirmed on the
// hardware. It is process-local and never expires: a missing entry means
// the state is unknown and the next pass must command the switch
// unconditionally. Entries are written only after the switch acknowledged
// the command, so the cache never claims more than was actually applied.
type Cache struct {
	mu    sync.RWMutex
	ports map[int64]PortState
}

// NewCache creates an empty cache; every device starts out unknown.
func NewCache() *Cache {
	return &Cache{
		ports: make(map[int64]PortState),
	}
}

// Get returns the confirmed state for a device, if any.
func (c *Cache) Get(deviceID int64) (PortState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state, ok := c.ports[deviceID]
	return state, ok
}

// Set records a confirmed hardware write.
func (c *Cache) Set(deviceID int64, enabled bool, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ports[deviceID] = PortState{Enabled: enabled, SyncedAt: at}
}

// Invalidate forgets a device's confirmed state, forcing a command on
// the next pass. Used when connection settings change under the cache.
func (c *Cache) Invalidate(deviceID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.ports, deviceID)
}
