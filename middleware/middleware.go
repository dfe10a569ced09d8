package middleware

import (
	"context"
	"sync"

	"github.com/gali1/dohrelay/config"
	"github.com/semihalev/zlog/v2"
)

// Handler interface.
type Handler interface {
	Name() string
	ServeDNS(ctx context.Context, ch *Chain)
}

type middleware struct {
	mu sync.RWMutex

	cfg      *config.Config
	handlers []handler
}

type handler struct {
	name string
	new  func(*config.Config) Handler
}

var m middleware
var chainHandlers []Handler

// Register a middleware.
func Register(name string, new func(*config.Config) Handler) {
	zlog.Debug("Register middleware", "name", name)

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, h := range m.handlers {
		if h.name == name {
			m.handlers[i].new = new
			return
		}
	}

	m.handlers = append(m.handlers, handler{name: name, new: new})
}

// Setup constructs every registered handler with cfg. Calling it again
// rebuilds the handlers, tests rely on that.
func Setup(cfg *config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg = cfg

	chainHandlers = chainHandlers[:0]
	for _, handler := range m.handlers {
		chainHandlers = append(chainHandlers, handler.new(cfg))
	}
}

// Handlers return constructed handlers.
func Handlers() []Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return chainHandlers
}

// List return names of registered handlers.
func List() (list []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, handler := range m.handlers {
		list = append(list, handler.name)
	}

	return list
}

// Get return a constructed handler by name.
func Get(name string) Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, handler := range m.handlers {
		if handler.name == name {
			if len(chainHandlers) <= i {
				return nil
			}
			return chainHandlers[i]
		}
	}

	return nil
}
