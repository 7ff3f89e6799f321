package source

import (
	"sync"

	"github.com/AgustinSRG/go-live-rtmp/internal/config"
)

// Registry is the process-wide stream-key -> Source map. Entries transition
// through a disposing state before removal so a lookup racing with teardown
// never hands out a source that is about to disappear.
type Registry struct {
	mu       sync.Mutex
	sources  map[string]*Source
	cfg      *config.Config
	handlers []Handler
}

func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		sources: make(map[string]*Source),
		cfg:     cfg,
	}
}

// AddGlobalHandler registers a handler every source created from now on gets
// attached automatically, the way a forwarder manager subscribes to every
// channel's publish/unpublish transitions without the registry needing to
// know forwarding exists.
func (r *Registry) AddGlobalHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

// FindOrCreate returns the existing source for key, creating one if absent.
// A source found mid-disposal is replaced with a fresh one rather than
// handed out, so callers never attach to a source that is being removed.
func (r *Registry) FindOrCreate(key string) *Source {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sources[key]; ok && !s.disposing {
		return s
	}

	s := New(key, r.cfg)
	for _, h := range r.handlers {
		s.AddHandler(h)
	}
	r.sources[key] = s
	return s
}

// Find returns the source for key without creating one.
func (r *Registry) Find(key string) (*Source, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sources[key]
	if !ok || s.disposing {
		return nil, false
	}
	return s, true
}

// Dispose marks the source for key as disposing, wakes every consumer, and
// removes it once it has neither a publisher nor consumers. It is a no-op
// if the source still has a publisher or consumers (the caller should only
// call it when both are known to be gone).
func (r *Registry) Dispose(key string) {
	r.mu.Lock()
	s, ok := r.sources[key]
	if !ok {
		r.mu.Unlock()
		return
	}

	s.mu.Lock()
	if s.publishing || len(s.consumers) > 0 {
		s.mu.Unlock()
		r.mu.Unlock()
		return
	}
	s.disposing = true
	s.mu.Unlock()

	delete(r.sources, key)
	r.mu.Unlock()
}

// Kill terminates the publisher of the source registered under key, if any,
// provided id is empty, "*", or matches the publisher's recorded id. It
// reports whether a publisher was found and killed.
func (r *Registry) Kill(key, id string) bool {
	r.mu.Lock()
	s, ok := r.sources[key]
	r.mu.Unlock()

	if !ok {
		return false
	}
	return s.Kill(id)
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sources)
}
