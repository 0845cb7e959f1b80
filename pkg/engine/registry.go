package engine

import (
	"errors"
	"fmt"
	"sort"
)

var ErrNoEngine = errors.New("No engine available")

// Registry maps currency symbols to their engines.
type Registry map[string]Engine

func NewRegistry(engines ...Engine) Registry {
	r := make(Registry, len(engines))
	for _, e := range engines {
		r[e.Symbol()] = e
	}
	return r
}

func (r Registry) Get(symbol string) (Engine, error) {
	e, ok := r[symbol]
	if !ok || e == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoEngine, symbol)
	}
	return e, nil
}

func (r Registry) Symbols() []string {
	out := make([]string, 0, len(r))
	for s := range r {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
