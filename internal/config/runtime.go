package config

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Runtime-tunable keys, adjustable through the operator console.
const (
	KeyHeartbeatInterval   = "HEARTBEAT_INTERVAL_S"
	KeyHeartbeatCheckDelay = "HEARTBEAT_CHECK_DELAY_S"
	KeyHeartbeatTimeout    = "HEARTBEAT_TIMEOUT_S"
	KeyClientTimeout       = "CLIENT_TIMEOUT_S"
	KeyMaxQueueSize        = "MAX_QUEUE_SIZE"
	KeyThreadPoolSize      = "THREAD_POOL_SIZE"
	KeyMaxUsernameLength   = "MAX_USERNAME_LENGTH"
	KeyMaxSubjectLength    = "MAX_SUBJECT_LENGTH"
	KeyAutoStopNoClients   = "AUTO_STOP_WHEN_NO_CLIENTS"
)

type kind int

const (
	kindInt kind = iota
	kindBool
)

type def struct {
	kind     kind
	def      string
	min, max int // int keys only
}

var definitions = map[string]def{
	KeyHeartbeatInterval:   {kindInt, "30", 5, 3600},
	KeyHeartbeatCheckDelay: {kindInt, "5", 1, 60},
	KeyHeartbeatTimeout:    {kindInt, "90", 10, 3600},
	KeyClientTimeout:       {kindInt, "120", 10, 3600},
	KeyMaxQueueSize:        {kindInt, "10000", 10, 100000},
	KeyThreadPoolSize:      {kindInt, "12", 1, 128},
	KeyMaxUsernameLength:   {kindInt, "32", 3, 100},
	KeyMaxSubjectLength:    {kindInt, "100", 10, 500},
	KeyAutoStopNoClients:   {kindBool, "false", 0, 0},
}

// Runtime holds the mutable server configuration. It is an injected
// collaborator, not a singleton; tests construct their own with frozen
// defaults. All methods are safe for concurrent use.
type Runtime struct {
	mu     sync.RWMutex
	values map[string]string
}

// New returns a Runtime populated with defaults.
func New() *Runtime {
	r := &Runtime{values: make(map[string]string, len(definitions))}
	for k, d := range definitions {
		r.values[k] = d.def
	}
	return r
}

// Set validates value against the key's type and bounds and stores it.
func (r *Runtime) Set(key, value string) error {
	d, ok := definitions[key]
	if !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}
	switch d.kind {
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: not an integer: %q", key, value)
		}
		if n < d.min || n > d.max {
			return fmt.Errorf("%s: %d out of range [%d..%d]", key, n, d.min, d.max)
		}
	case kindBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%s: not a boolean: %q", key, value)
		}
	}
	r.mu.Lock()
	r.values[key] = value
	r.mu.Unlock()
	return nil
}

// Int returns the integer value of key, falling back to the default for
// unknown keys so call sites stay unconditional.
func (r *Runtime) Int(key string) int {
	r.mu.RLock()
	v, ok := r.values[key]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(v)
	return n
}

// Bool returns the boolean value of key.
func (r *Runtime) Bool(key string) bool {
	r.mu.RLock()
	v, ok := r.values[key]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	b, _ := strconv.ParseBool(v)
	return b
}

// Seconds returns an int key interpreted as a duration in seconds.
func (r *Runtime) Seconds(key string) time.Duration {
	return time.Duration(r.Int(key)) * time.Second
}

// List returns all keys and current values in sorted key order.
func (r *Runtime) List() []KV {
	r.mu.RLock()
	out := make([]KV, 0, len(r.values))
	for k, v := range r.values {
		out = append(out, KV{k, v})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// KV is one configuration entry for listing.
type KV struct {
	Key   string
	Value string
}

// Reset restores every key to its default.
func (r *Runtime) Reset() {
	r.mu.Lock()
	for k, d := range definitions {
		r.values[k] = d.def
	}
	r.mu.Unlock()
}
