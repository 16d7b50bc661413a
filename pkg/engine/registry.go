package engine

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Options are passed to a Factory when an account starts.
type Options struct {
	Uin      int64
	Protocol string
	Device   *Device
	Handler  Handler
	Logger   *zap.Logger
	// Args holds the engine specific section of the account config.
	Args map[string]any
}

type Factory func(opts Options) (Engine, error)

var (
	regMu     sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a Factory available under name. It panics if name is
// already taken.
func Register(name string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("duplicated engine %s", name))
	}
	factories[name] = f
}

// New creates an engine with the Factory registered under name.
func New(name string, opts Options) (Engine, error) {
	regMu.RLock()
	f, ok := factories[name]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown engine %q, available engines: %v", name, Names())
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return f(opts)
}

// Names lists the registered engines in lexical order.
func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
