package input

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// StepKind selects what a scripted poll returns.
type StepKind int

const (
	StepSample StepKind = iota
	StepDisconnected
	StepUnavailable
	StepPanic
)

// Step is one scripted poll result.
type Step struct {
	Kind   StepKind
	Sample AxisSample
}

// SampleStep returns a step that reports a connected controller.
func SampleStep(left, right float64) Step {
	return Step{Kind: StepSample, Sample: AxisSample{Left: left, Right: right}}
}

// DisconnectedStep returns a step that reports no controller.
func DisconnectedStep() Step { return Step{Kind: StepDisconnected} }

// UnavailableStep returns a step whose poll fails with ErrInputUnavailable.
func UnavailableStep() Step { return Step{Kind: StepUnavailable} }

// Scripted is a Source that replays a fixed sequence of poll results. Once the
// script is exhausted it keeps returning the last step, or restarts from the
// beginning when Loop is set. It backs unit tests and the --dev mode of the
// CLI, where no controller hardware is present.
type Scripted struct {
	mu      sync.Mutex
	steps   []Step
	pos     int
	loop    bool
	polls   int
	indexes []int
	closed  bool
}

// NewScripted creates a scripted source. An empty script reports Disconnected.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// SetLoop makes the script restart after the last step.
func (s *Scripted) SetLoop(loop bool) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop = loop
	return s
}

// Append adds steps to the end of the script.
func (s *Scripted) Append(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

// Poll returns the next scripted result.
func (s *Scripted) Poll(index int) (Reading, error) {
	s.mu.Lock()
	s.polls++
	s.indexes = append(s.indexes, index)
	step, ok := s.next()
	s.mu.Unlock()

	if !ok {
		return Disconnected, nil
	}
	switch step.Kind {
	case StepSample:
		return Reading{Sample: step.Sample, Connected: true}, nil
	case StepUnavailable:
		return Disconnected, fmt.Errorf("%w: scripted failure", ErrInputUnavailable)
	case StepPanic:
		panic("scripted input panic")
	default:
		return Disconnected, nil
	}
}

func (s *Scripted) next() (Step, bool) {
	if len(s.steps) == 0 {
		return Step{}, false
	}
	if s.pos >= len(s.steps) {
		if !s.loop {
			return s.steps[len(s.steps)-1], true
		}
		s.pos = 0
	}
	step := s.steps[s.pos]
	s.pos++
	return step, true
}

// Polls returns the number of Poll calls so far.
func (s *Scripted) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// Indexes returns the controller indexes passed to Poll, in order.
func (s *Scripted) Indexes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.indexes...)
}

// Closed reports whether Close was called.
func (s *Scripted) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close marks the source closed.
func (s *Scripted) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ParseScript reads a fixture script, one step per line:
//
//	0.5,-0.25      stick sample (left,right)
//	disconnected   controller absent
//	unavailable    polling capability failure
//
// Blank lines and lines starting with # are ignored.
func ParseScript(r io.Reader) ([]Step, error) {
	var steps []Step
	scan := bufio.NewScanner(r)
	lineNo := 0
	for scan.Scan() {
		lineNo++
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch strings.ToLower(line) {
		case "disconnected":
			steps = append(steps, DisconnectedStep())
			continue
		case "unavailable":
			steps = append(steps, UnavailableStep())
			continue
		}

		segments := strings.Split(line, ",")
		if len(segments) != 2 {
			return nil, fmt.Errorf("line %d: invalid step %q, expected left,right", lineNo, line)
		}
		left, err := strconv.ParseFloat(strings.TrimSpace(segments[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: failed to parse left: %w", lineNo, err)
		}
		right, err := strconv.ParseFloat(strings.TrimSpace(segments[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: failed to parse right: %w", lineNo, err)
		}
		steps = append(steps, SampleStep(left, right))
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	return steps, nil
}
