package rtsp

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrEmptyStreamName rejects registration under a null/empty name. The
// source silently stores such a handle under "" and only discovers the
// mistake when a second empty-named registration evicts the first one; here
// it is rejected outright at the call site instead.
var ErrEmptyStreamName = errors.New("stream name must not be empty")

// Registry maps stream-name to the media session bound to it. Mutations
// happen only through Add/Remove/Shutdown, which the embedding binary is
// expected to call from a single goroutine (its own control path, never a
// ClientSession handler); lookups happen from every ClientSession goroutine
// concurrently, hence the RWMutex.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]MediaSession
	log      *logrus.Entry
}

// NewRegistry returns an empty registry.
func NewRegistry(log *logrus.Entry) *Registry {
	return &Registry{
		sessions: make(map[string]MediaSession),
		log:      log,
	}
}

// Add registers session under name, evicting and closing whatever was
// previously registered under that name. A second registration under the
// same name is the documented eviction path, not an error.
func (r *Registry) Add(name string, session MediaSession) error {
	if name == "" {
		return ErrEmptyStreamName
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.sessions[name]; ok {
		old.Close()
		r.log.WithField("stream", name).Info("evicted existing media session")
	}
	r.sessions[name] = session
	return nil
}

// Lookup returns the media session registered under name, if any.
func (r *Registry) Lookup(name string) (MediaSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	return s, ok
}

// Remove unregisters and closes the media session under name, if present.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[name]; ok {
		s.Close()
		delete(r.sessions, name)
	}
}

// Snapshot returns every registered media session, for the admin surface.
func (r *Registry) Snapshot() []MediaSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MediaSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Shutdown closes every registered media session and empties the registry.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, s := range r.sessions {
		s.Close()
		delete(r.sessions, name)
		r.log.WithField("stream", name).Info("closed media session on shutdown")
	}
}
