package consoleapp

import (
	"sync"

	"github.com/phillip-england/distconsole/internal/listctl"
	"github.com/phillip-england/distconsole/internal/screens"
)

type registryKey struct {
	identity string
	screen   string
}

// registry keeps one controller per operator and screen. Controllers are
// dropped when the operator logs out or their session lapses.
type registry struct {
	mu    sync.Mutex
	byKey map[registryKey]*listctl.Controller
	build func(screens.Screen) *listctl.Controller
}

func newRegistry(build func(screens.Screen) *listctl.Controller) *registry {
	return &registry{byKey: map[registryKey]*listctl.Controller{}, build: build}
}

func (r *registry) get(identity string, sc screens.Screen) *listctl.Controller {
	key := registryKey{identity: identity, screen: sc.Name}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctl, ok := r.byKey[key]; ok {
		return ctl
	}
	ctl := r.build(sc)
	r.byKey[key] = ctl
	return ctl
}

func (r *registry) drop(identity string) int {
	r.mu.Lock()
	var dropped []*listctl.Controller
	for key, ctl := range r.byKey {
		if key.identity == identity {
			dropped = append(dropped, ctl)
			delete(r.byKey, key)
		}
	}
	r.mu.Unlock()
	for _, ctl := range dropped {
		ctl.Close()
	}
	return len(dropped)
}

func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}
