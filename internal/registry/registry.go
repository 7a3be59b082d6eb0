package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/kstaniek/go-chat-server/internal/logging"
	"github.com/kstaniek/go-chat-server/internal/metrics"
)

// ErrNameTaken is returned by Register when the username is already bound.
var ErrNameTaken = errors.New("username already exists")

// Registry is the authoritative username -> session mapping. Usernames are
// unique and case-sensitive. Register folds the uniqueness check and the
// insert into one critical section, so two simultaneous CONNECTs for the same
// name produce exactly one winner.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Session
}

func New() *Registry { return &Registry{byName: make(map[string]*Session)} }

// Register binds name to s if the name is free. On success the session
// carries the username and its heartbeat clock starts at now.
func (r *Registry) Register(name string, s *Session) error {
	r.mu.Lock()
	if _, taken := r.byName[name]; taken {
		r.mu.Unlock()
		return ErrNameTaken
	}
	prev := len(r.byName)
	r.byName[name] = s
	cur := len(r.byName)
	r.mu.Unlock()
	s.setUsername(name)
	s.TouchPong()
	metrics.SetClients(cur)
	if prev == 0 && cur == 1 {
		logging.L().Info("clients_first_connected")
	}
	return nil
}

// Unregister removes name if it still maps to s; safe to call multiple times.
// Passing nil removes whatever session holds the name.
func (r *Registry) Unregister(name string, s *Session) bool {
	r.mu.Lock()
	cur, existed := r.byName[name]
	if existed && (s == nil || cur == s) {
		delete(r.byName, name)
	} else {
		existed = false
	}
	n := len(r.byName)
	r.mu.Unlock()
	metrics.SetClients(n)
	if existed && n == 0 {
		logging.L().Info("clients_last_disconnected")
	}
	return existed
}

// Lookup returns the session bound to name.
func (r *Registry) Lookup(name string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.byName[name]
	r.mu.RUnlock()
	return s, ok
}

// Names returns the registered usernames in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Snapshot returns (username, session) pairs so callers can do socket I/O
// outside the registry lock.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.byName))
	for name, s := range r.byName {
		out = append(out, Entry{Name: name, Session: s})
	}
	r.mu.RUnlock()
	return out
}

// Entry is one registered client in a Snapshot.
type Entry struct {
	Name    string
	Session *Session
}

// Count returns the number of registered clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byName)
	r.mu.RUnlock()
	return n
}

// CloseAll closes every registered socket and empties the registry; used by
// server shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byName))
	for name, s := range r.byName {
		sessions = append(sessions, s)
		delete(r.byName, name)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
	metrics.SetClients(0)
}
