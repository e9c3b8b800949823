// Package scenario runs scripted workloads against a heap. A scenario is a
// YAML document with a heap configuration and a list of command lines; the
// command lines are split like shell words.
package scenario

import (
	"fmt"
	"io"
	"os"

	"github.com/andypeng2015/esgc/gc"
	"gopkg.in/yaml.v2"
)

// Scenario is one scripted workload.
type Scenario struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Config      gc.Config `yaml:"config"`
	Steps       []string  `yaml:"steps"`
}

// Parse decodes a scenario document.
func Parse(data []byte) (*Scenario, error) {
	s := &Scenario{}
	if err := yaml.UnmarshalStrict(data, s); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q: no steps", s.Name)
	}
	return s, nil
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	return Parse(data)
}

// StepError reports the step of a scenario that failed.
type StepError struct {
	Step int // 1-based
	Line string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Step, e.Line, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Run executes every step of s on a fresh heap, writing command output to
// out. The heap is verified and destroyed afterwards.
func Run(s *Scenario, out io.Writer) error {
	r := NewRunner(nil, s.HeapConfig(out), out)
	defer r.Close()
	return s.Execute(r)
}

// HeapConfig returns the heap configuration of s, with trace records going
// to out unless a trace writer is already set.
func (s *Scenario) HeapConfig(out io.Writer) gc.Config {
	cfg := s.Config
	if cfg.Trace && cfg.TraceWriter == nil {
		cfg.TraceWriter = out
	}
	return cfg
}

// Execute runs the steps of s on r and verifies the heap. It stops at the
// first failing step.
func (s *Scenario) Execute(r *Runner) error {
	for i, line := range s.Steps {
		if err := r.Exec(line); err != nil {
			return &StepError{Step: i + 1, Line: line, Err: err}
		}
	}
	if err := r.Heap().Verify(); err != nil {
		return fmt.Errorf("scenario %q: %w", s.Name, err)
	}
	return nil
}
