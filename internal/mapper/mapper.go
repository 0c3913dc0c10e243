// Package mapper translates raw tracker parameters into the input
// parameters the host expects. Mappings are optional user-supplied
// JavaScript expressions; parameters without a mapping pass through
// unchanged.
package mapper

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/facebridge-ai/facebridge/internal/curve"
	"github.com/facebridge-ai/facebridge/internal/tracking"
)

// Rule rewrites a single parameter. Expr is a JS expression evaluated
// with `value` (the raw parameter value) and `face` (whether a face is
// currently tracked) in scope; its result becomes the mapped value.
type Rule struct {
	ParamID string
	Expr    string
	Curve   curve.Evaluator
}

// Mapper applies a fixed set of rules to tracking frames. A goja runtime
// is not safe for concurrent use, so evaluation is serialised.
type Mapper struct {
	mu       sync.Mutex
	vm       *goja.Runtime
	programs map[string]*goja.Program
	rules    map[string]Rule
}

// New compiles the rule expressions up front so malformed ones fail at
// configuration time, not per frame.
func New(rules []Rule) (*Mapper, error) {
	m := &Mapper{
		vm:       goja.New(),
		programs: make(map[string]*goja.Program),
		rules:    make(map[string]Rule),
	}
	for _, rule := range rules {
		if rule.ParamID == "" {
			return nil, fmt.Errorf("mapper: rule missing parameter id")
		}
		if rule.Expr != "" {
			prog, err := goja.Compile(rule.ParamID, rule.Expr, true)
			if err != nil {
				return nil, fmt.Errorf("mapper: compile expression for %s: %w", rule.ParamID, err)
			}
			m.programs[rule.ParamID] = prog
		}
		m.rules[rule.ParamID] = rule
	}
	return m, nil
}

// Apply returns a new frame with every rule applied. The input frame is
// never mutated. Expression failures abort the frame so a bad mapping is
// surfaced instead of silently feeding stale values.
func (m *Mapper) Apply(frame tracking.Frame) (tracking.Frame, error) {
	if m == nil || len(m.rules) == 0 {
		return frame.Clone(), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := frame.Clone()
	for i, p := range out.Params {
		rule, ok := m.rules[p.ID]
		if !ok {
			continue
		}

		value := p.Value
		if prog, ok := m.programs[p.ID]; ok {
			m.vm.Set("value", value)
			m.vm.Set("face", frame.FaceFound)
			result, err := m.vm.RunProgram(prog)
			if err != nil {
				return tracking.Frame{}, fmt.Errorf("mapper: evaluate %s: %w", p.ID, err)
			}
			value = result.ToFloat()
		}

		if rule.Curve != nil {
			shaped, err := rule.Curve(value)
			if err != nil {
				return tracking.Frame{}, fmt.Errorf("mapper: shape %s: %w", p.ID, err)
			}
			value = shaped
		}

		out.Params[i].Value = value
	}
	return out, nil
}
