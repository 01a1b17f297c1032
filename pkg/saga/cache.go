package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSessionNotFound is returned when a saga session cannot be located.
var ErrSessionNotFound = errors.New("saga: session not found")

// SessionCache persists undecided saga sessions. Decided sessions stay
// readable for a grace period so the status endpoint and late replies
// can still see the outcome, then expire.
type SessionCache interface {
	Put(ctx context.Context, session *Session) error
	Get(ctx context.Context, sagaID string) (*Session, error)
	// Expire schedules eviction after ttl. Used once a terminal
	// decision is recorded.
	Expire(ctx context.Context, sagaID string, ttl time.Duration) error
	Delete(ctx context.Context, sagaID string) error
	// List returns every live session. The watchdog scans this for
	// overdue undecided sessions.
	List(ctx context.Context) ([]*Session, error)

	Close() error
}

type memoryEntry struct {
	session   Session
	expiresAt time.Time // zero means no expiry
}

// MemoryCache is the in-process SessionCache. Expired entries are
// dropped lazily on access and by a background janitor.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryCache creates an in-memory session cache with a janitor
// sweeping at the given interval.
func NewMemoryCache(sweepInterval time.Duration) *MemoryCache {
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	c := &MemoryCache{
		entries: make(map[string]memoryEntry),
		stop:    make(chan struct{}),
	}
	go c.janitor(sweepInterval)
	return c
}

func (c *MemoryCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for sagaID, entry := range c.entries {
				if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
					delete(c.entries, sagaID)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Put stores a copy of the session.
func (c *MemoryCache) Put(ctx context.Context, session *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if session == nil || session.SagaID == "" {
		return fmt.Errorf("saga: session and saga id are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.entries[session.SagaID]
	entry.session = *session
	c.entries[session.SagaID] = entry
	return nil
}

// Get returns a copy of the stored session.
func (c *MemoryCache) Get(ctx context.Context, sagaID string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[sagaID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sagaID)
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(c.entries, sagaID)
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sagaID)
	}
	session := entry.session
	return &session, nil
}

// Expire schedules eviction after ttl.
func (c *MemoryCache) Expire(ctx context.Context, sagaID string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[sagaID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sagaID)
	}
	entry.expiresAt = time.Now().Add(ttl)
	c.entries[sagaID] = entry
	return nil
}

// Delete removes the session immediately.
func (c *MemoryCache) Delete(ctx context.Context, sagaID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sagaID)
	return nil
}

// List returns copies of all live sessions.
func (c *MemoryCache) List(ctx context.Context) ([]*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	sessions := make([]*Session, 0, len(c.entries))
	for sagaID, entry := range c.entries {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(c.entries, sagaID)
			continue
		}
		session := entry.session
		sessions = append(sessions, &session)
	}
	return sessions, nil
}

// Close stops the janitor.
func (c *MemoryCache) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}
