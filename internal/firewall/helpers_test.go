package firewall

import (
	"context"
	"errors"
	"strings"
	"sync"

	"grimm.is/isolator/internal/proc"
)

// scriptedRunner records rendered commands and fails those matching a
// configured fragment.
type scriptedRunner struct {
	mu       sync.Mutex
	commands []string
	failOn   map[string]error // fragment -> error
	passes   map[string]int   // fragment -> successes before failOn applies
	outputs  map[string][]byte
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{failOn: map[string]error{}, passes: map[string]int{}, outputs: map[string][]byte{}}
}

func (s *scriptedRunner) fail(fragment, output string) {
	s.failOn[fragment] = &CommandError{Command: fragment, Output: output, Err: errors.New("exit status 1")}
}

// failAfter lets n matching commands succeed before failing like fail.
func (s *scriptedRunner) failAfter(fragment string, n int, output string) {
	s.fail(fragment, output)
	s.passes[fragment] = n
}

func (s *scriptedRunner) do(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, line)
	for frag, err := range s.failOn {
		if !strings.Contains(line, frag) {
			continue
		}
		if s.passes[frag] > 0 {
			s.passes[frag]--
			continue
		}
		return err
	}
	return nil
}

func (s *scriptedRunner) Run(_ context.Context, name string, args ...string) error {
	return s.do(RenderCommand(name, args...))
}

func (s *scriptedRunner) RunInput(_ context.Context, input string, name string, args ...string) error {
	return s.do(RenderCommand(name, args...) + "\n" + input)
}

func (s *scriptedRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	line := RenderCommand(name, args...)
	if err := s.do(line); err != nil {
		return nil, err
	}
	for frag, out := range s.outputs {
		if strings.Contains(line, frag) {
			return out, nil
		}
	}
	return nil, nil
}

func (s *scriptedRunner) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// fakeProcs is an in-memory proc.Table.
type fakeProcs map[int]uint32

func (f fakeProcs) Comm(pid int) (string, error) {
	if _, ok := f[pid]; !ok {
		return "", proc.ErrNoSuchProcess
	}
	return "fake", nil
}

func (f fakeProcs) OwnerUID(pid int) (uint32, error) {
	uid, ok := f[pid]
	if !ok {
		return 0, proc.ErrNoSuchProcess
	}
	return uid, nil
}

func (f fakeProcs) Children(int) ([]int, error) { return nil, nil }

func (f fakeProcs) State(int) (string, error) { return "S", nil }
