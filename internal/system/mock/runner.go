package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/TheShiveshNetwork/sayonara/internal/system"
)

var _ system.Runner = (*Runner)(nil)

// Runner replays canned command output keyed by the full command line.
type Runner struct {
	mu      sync.Mutex
	outputs map[string]result

	// RunFn, when set, handles every call not matched by a canned output.
	RunFn func(name string, args ...string) ([]byte, error)

	Calls []string
}

type result struct {
	out []byte
	err error
}

// NewRunner creates a runner with no canned outputs.
func NewRunner() *Runner {
	return &Runner{outputs: make(map[string]result)}
}

// On registers the output for a command line such as "lsblk -J -b".
func (r *Runner) On(cmdline string, out string, err error) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[cmdline] = result{out: []byte(out), err: err}
	return r
}

func (r *Runner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	cmdline := strings.TrimSpace(name + " " + strings.Join(args, " "))

	r.mu.Lock()
	r.Calls = append(r.Calls, cmdline)
	res, ok := r.outputs[cmdline]
	fn := r.RunFn
	r.mu.Unlock()

	if ok {
		return res.out, res.err
	}
	if fn != nil {
		return fn(name, args...)
	}
	return nil, &system.CommandError{Name: name, Args: args, ExitCode: 127, Err: fmt.Errorf("mock: no output for %q", cmdline)}
}

// Called reports whether a command line was run.
func (r *Runner) Called(cmdline string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.Calls {
		if c == cmdline {
			return true
		}
	}
	return false
}
