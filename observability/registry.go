package observability

import (
	"fmt"
	"log/slog"
	"sync"
)

// observers maps observer names to implementations so YAML configs can
// select one by string.
var (
	observers = map[string]Observer{
		"noop": NoOpObserver{},
		"slog": NewSlogObserver(slog.Default()),
	}
	mutex sync.RWMutex
)

// GetObserver retrieves a registered observer by name. Returns an error
// for names never registered.
func GetObserver(name string) (Observer, error) {
	mutex.RLock()
	defer mutex.RUnlock()

	obs, exists := observers[name]
	if !exists {
		return nil, fmt.Errorf("unknown observer: %s", name)
	}
	return obs, nil
}

// RegisterObserver registers an observer under the given name, replacing
// any previous registration. This lets binaries install their configured
// logger before config-driven resolution runs.
func RegisterObserver(name string, observer Observer) {
	mutex.Lock()
	defer mutex.Unlock()

	observers[name] = observer
}
