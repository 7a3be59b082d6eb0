package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/kstaniek/go-chat-server/internal/logging"
	"github.com/kstaniek/go-chat-server/internal/metrics"
)

// Banlist is the persisted set of usernames forbidden to connect. It has its
// own lock, never nested with the registry lock. Mutations rewrite the whole
// file while holding the lock.
type Banlist struct {
	mu    sync.Mutex
	path  string
	names map[string]struct{}
}

// NewBanlist creates an empty ban set persisted at path.
func NewBanlist(path string) *Banlist {
	return &Banlist{path: path, names: make(map[string]struct{})}
}

// Load reads the banlist file. A missing file is not an error; the list
// starts empty and the file is created on the first Add.
func (b *Banlist) Load() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.L().Info("banlist_absent", "path", b.path)
			return nil
		}
		metrics.IncError(metrics.ErrBanlistIO)
		return fmt.Errorf("banlist load: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			b.names[line] = struct{}{}
		}
	}
	logging.L().Info("banlist_loaded", "path", b.path, "banned", len(b.names))
	return nil
}

// Add bans name and rewrites the file.
func (b *Banlist) Add(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names[name] = struct{}{}
	return b.save()
}

// Remove unbans name. Removing an absent name returns false and does not
// rewrite the file.
func (b *Banlist) Remove(name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.names[name]; !ok {
		return false, nil
	}
	delete(b.names, name)
	return true, b.save()
}

// Contains reports whether name is banned.
func (b *Banlist) Contains(name string) bool {
	b.mu.Lock()
	_, ok := b.names[name]
	b.mu.Unlock()
	return ok
}

// Names returns the banned usernames in sorted order.
func (b *Banlist) Names() []string {
	b.mu.Lock()
	out := make([]string, 0, len(b.names))
	for n := range b.names {
		out = append(out, n)
	}
	b.mu.Unlock()
	sort.Strings(out)
	return out
}

// save rewrites the file in full; callers hold b.mu.
func (b *Banlist) save() error {
	var sb strings.Builder
	names := make([]string, 0, len(b.names))
	for n := range b.names {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		sb.WriteString(n)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(b.path, []byte(sb.String()), 0o644); err != nil {
		metrics.IncError(metrics.ErrBanlistIO)
		return fmt.Errorf("banlist save: %w", err)
	}
	return nil
}
