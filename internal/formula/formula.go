// Package formula evaluates the user-supplied expressions of a scenario:
// aggregation formulas, FSM guards and actions, multiplexer conditions, and
// ProcessNode transforms. Expressions use the expr language.
package formula

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/builtin"
	"github.com/expr-lang/expr/vm"

	"github.com/roach88/flowledger/internal/ir"
)

// DefaultCacheSize bounds the number of compiled programs kept per Evaluator.
const DefaultCacheSize = 1024

// Evaluator compiles and runs expressions, caching compiled programs keyed by
// the SHA-256 of their source and the builtins their variables shadow. It is
// safe for concurrent use.
type Evaluator struct {
	mu       sync.RWMutex
	max      int
	programs map[string]*vm.Program
}

// NewEvaluator returns an Evaluator caching up to max programs.
// A non-positive max uses DefaultCacheSize.
func NewEvaluator(max int) *Evaluator {
	if max <= 0 {
		max = DefaultCacheSize
	}
	return &Evaluator{
		max:      max,
		programs: make(map[string]*vm.Program, 64),
	}
}

// Compile returns the compiled program for src, compiling it on first use.
// A variable in vars named like an expr builtin (values, count, len, max...)
// hides that builtin, so `values[0]` indexes the variable.
func (e *Evaluator) Compile(src string, vars ...string) (*vm.Program, error) {
	shadowed := shadowedBuiltins(vars)
	key := hash(src, shadowed)

	e.mu.RLock()
	if p, ok := e.programs[key]; ok {
		e.mu.RUnlock()
		return p, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if p, ok := e.programs[key]; ok {
		return p, nil
	}

	opts := make([]expr.Option, 0, len(shadowed))
	for _, name := range shadowed {
		opts = append(opts, expr.DisableBuiltin(name))
	}
	p, err := expr.Compile(src, opts...)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}

	if len(e.programs) < e.max {
		e.programs[key] = p
	}
	return p, nil
}

// Check reports whether src compiles with vars in scope.
func (e *Evaluator) Check(src string, vars ...string) error {
	_, err := e.Compile(strings.TrimSpace(src), vars...)
	return err
}

// Eval runs src against env and returns the raw result.
func (e *Evaluator) Eval(src string, env map[string]any) (any, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty expression")
	}

	vars := make([]string, 0, len(env))
	for name := range env {
		vars = append(vars, name)
	}
	p, err := e.Compile(src, vars...)
	if err != nil {
		return nil, err
	}

	out, err := expr.Run(p, env)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", src, err)
	}
	return out, nil
}

// EvalBool runs a condition. An empty condition is true.
func (e *Evaluator) EvalBool(cond string, env map[string]any) (bool, error) {
	if strings.TrimSpace(cond) == "" {
		return true, nil
	}

	out, err := e.Eval(cond, env)
	if err != nil {
		return false, err
	}

	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("cond %q must evaluate to bool (got %T)", cond, out)
	}
	return b, nil
}

// EvalValue runs src and converts the result into an IRValue.
func (e *Evaluator) EvalValue(src string, env map[string]any) (ir.IRValue, error) {
	out, err := e.Eval(src, env)
	if err != nil {
		return nil, err
	}

	v, err := ir.FromGo(out)
	if err != nil {
		return nil, fmt.Errorf("result of %q: %w", src, err)
	}
	return v, nil
}

// Len returns the number of cached programs.
func (e *Evaluator) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.programs)
}

// shadowedBuiltins returns the sorted names in vars that are also builtins.
func shadowedBuiltins(vars []string) []string {
	var out []string
	for _, name := range vars {
		if _, ok := builtin.Index[name]; ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func hash(src string, shadowed []string) string {
	h := sha256.New()
	h.Write([]byte(src))
	for _, name := range shadowed {
		h.Write([]byte{0})
		h.Write([]byte(name))
	}
	return hex.EncodeToString(h.Sum(nil))
}
