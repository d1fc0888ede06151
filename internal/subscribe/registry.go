package subscribe

import (
	"fmt"
	"sync"

	"github.com/gobwas/glob"
)

// DeliverFunc pushes a payload to one connected client session.
type DeliverFunc func(channel string, payload []byte) error

// Session is one connected client (a waiter tablet, a kitchen display, a
// diner device) with the channel patterns it asked for.
type Session struct {
	ID       string
	Deliver  DeliverFunc
	patterns []glob.Glob
}

// Registry holds live client sessions and answers the inverse routing
// question: which sessions want a message on this channel.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds a session with its glob channel patterns. Patterns use
// ':' as the segment separator, so "branch:*:waiters" matches a single
// branch id segment.
func (r *Registry) Register(id string, patterns []string, deliver DeliverFunc) error {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, ':')
		if err != nil {
			return fmt.Errorf("invalid channel pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, g)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = &Session{ID: id, Deliver: deliver, patterns: compiled}
	return nil
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Match returns every live session with at least one pattern matching the
// channel. A session matching on several patterns is returned once.
func (r *Registry) Match(channel string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	for _, s := range r.sessions {
		for _, g := range s.patterns {
			if g.Match(channel) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
