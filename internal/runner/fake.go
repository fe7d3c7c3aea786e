package runner

import (
	"context"
	"strings"
	"sync"
)

// Call records one invocation seen by a Fake.
type Call struct {
	Name string
	Args []string
}

// Line returns the call as a single space-joined string.
func (c Call) Line() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Fake is a scripted Runner for tests. Handler decides the result for each
// call; every call is recorded.
type Fake struct {
	mu      sync.Mutex
	Calls   []Call
	Handler func(name string, args []string) (Result, error)
}

// Run implements Runner.
func (f *Fake) Run(_ context.Context, name string, args ...string) (Result, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, Call{Name: name, Args: append([]string(nil), args...)})
	h := f.Handler
	f.mu.Unlock()
	if h == nil {
		return Result{}, nil
	}
	return h(name, args)
}

// Count returns how many recorded calls contain every given token.
func (f *Fake) Count(tokens ...string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c.has(tokens) {
			n++
		}
	}
	return n
}

func (c Call) has(tokens []string) bool {
	all := append([]string{c.Name}, c.Args...)
	for _, tok := range tokens {
		found := false
		for _, a := range all {
			if a == tok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
