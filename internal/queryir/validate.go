package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/flowledger/internal/ir"
)

// ValidationResult lists problems found in a query.
type ValidationResult struct {
	// Valid is true when Problems is empty.
	Valid bool

	Problems []string
}

// Error joins the problems into one message, or returns "" when valid.
func (r ValidationResult) Error() string {
	return strings.Join(r.Problems, "; ")
}

// Validate checks that a query only references known columns with values
// of a usable type. Backends call it before compiling.
//
// Validate is a pure function with no side effects.
func Validate(query Query) ValidationResult {
	v := &validator{problems: []string{}}
	v.validateQuery(query)

	return ValidationResult{
		Valid:    len(v.problems) == 0,
		Problems: v.problems,
	}
}

// validator accumulates problems during traversal.
type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	if q == nil {
		v.addProblem("nil query")
		return
	}

	switch query := q.(type) {
	case Select:
		v.validateSelect(query)
	case *Select:
		v.validateSelect(*query)
	default:
		v.addProblem("unknown query type: %T", q)
	}
}

func (v *validator) validateSelect(sel Select) {
	if sel.Source() != ActivitiesTable {
		v.addProblem("unknown source %q (only %q is queryable)", sel.From, ActivitiesTable)
	}
	if sel.Limit < 0 {
		v.addProblem("negative limit %d", sel.Limit)
	}
	if sel.Filter != nil {
		v.validatePredicate(sel.Filter)
	}
}

func (v *validator) validatePredicate(p Predicate) {
	if p == nil {
		return
	}

	switch pred := p.(type) {
	case Equals:
		v.validateEquals(pred)
	case *Equals:
		v.validateEquals(*pred)
	case BoundEquals:
		v.validateBoundEquals(pred)
	case *BoundEquals:
		v.validateBoundEquals(*pred)
	case And:
		v.validateAnd(pred)
	case *And:
		v.validateAnd(*pred)
	case SeqRange:
		v.validateSeqRange(pred)
	case *SeqRange:
		v.validateSeqRange(*pred)
	case Contains:
		v.validateContains(pred)
	case *Contains:
		v.validateContains(*pred)
	default:
		v.addProblem("unknown predicate type: %T", p)
	}
}

func (v *validator) validateEquals(eq Equals) {
	if !ScalarColumns[eq.Field] {
		v.addProblem("unknown column %q", eq.Field)
	}
	switch eq.Value.(type) {
	case ir.IRString, ir.IRInt, ir.IRBool:
	case nil, ir.IRNull:
		v.addProblem("column %q compared to null; ledger columns are never null", eq.Field)
	default:
		v.addProblem("column %q compared to non-scalar %T", eq.Field, eq.Value)
	}
}

func (v *validator) validateBoundEquals(beq BoundEquals) {
	if !ScalarColumns[beq.Field] {
		v.addProblem("unknown column %q", beq.Field)
	}
	if beq.BoundVar == "" {
		v.addProblem("column %q bound to empty variable name", beq.Field)
	}
}

func (v *validator) validateAnd(and And) {
	for _, sub := range and.Predicates {
		v.validatePredicate(sub)
	}
}

func (v *validator) validateSeqRange(r SeqRange) {
	if r.From < 0 || r.To < 0 {
		v.addProblem("seq range bounds must be non-negative, got [%d, %d]", r.From, r.To)
	}
	if r.From > 0 && r.To > 0 && r.From > r.To {
		v.addProblem("empty seq range [%d, %d]", r.From, r.To)
	}
}

func (v *validator) validateContains(c Contains) {
	if !ArrayColumns[c.Field] {
		v.addProblem("column %q is not an array column", c.Field)
	}
}
