package queryir

import "github.com/roach88/flowledger/internal/ir"

// ActivitiesTable is the only source a ledger query reads from.
const ActivitiesTable = "activities"

// Column names accepted by predicates.
const (
	ColExecutionID    = "execution_id"
	ColSeq            = "seq"
	ColStep           = "step"
	ColTimestamp      = "timestamp"
	ColNodeID         = "node_id"
	ColAction         = "action"
	ColTokenID        = "token_id"
	ColEventID        = "event_id"
	ColCorrelationIDs = "correlation_ids"
	ColSourceTokenIDs = "source_token_ids"
)

// ScalarColumns lists columns that compare with Equals and BoundEquals.
var ScalarColumns = map[string]bool{
	ColExecutionID: true,
	ColSeq:         true,
	ColStep:        true,
	ColTimestamp:   true,
	ColNodeID:      true,
	ColAction:      true,
	ColTokenID:     true,
	ColEventID:     true,
}

// ArrayColumns lists JSON array columns that Contains can search.
var ArrayColumns = map[string]bool{
	ColCorrelationIDs: true,
	ColSourceTokenIDs: true,
}

// Query represents an abstract ledger query.
//
// This is a sealed interface - only types in this package implement it.
type Query interface {
	queryNode()
}

// Predicate represents a filter condition over ledger rows.
//
// This is a sealed interface - only types in this package implement it.
type Predicate interface {
	predicateNode()
}

// Select reads ledger rows matching Filter in seq order.
//
// Example:
//
//	Select{
//	  Filter: And{Predicates: []Predicate{
//	    Equals{Field: "node_id", Value: ir.IRString("snk")},
//	    Contains{Field: "correlation_ids", Value: "e1"},
//	  }},
//	  Limit: 10,
//	}
//
// Translates to SQL:
//
//	SELECT ... FROM activities
//	WHERE node_id = ? AND EXISTS (SELECT 1 FROM json_each(correlation_ids) WHERE value = ?)
//	ORDER BY seq ASC LIMIT 10
type Select struct {
	From   string    // Source table; empty means ActivitiesTable
	Filter Predicate // WHERE conditions (nil = no filter)
	Limit  int       // Maximum rows; zero means unlimited
}

func (Select) queryNode() {}

// Source returns the table the select reads from.
func (s Select) Source() string {
	if s.From == "" {
		return ActivitiesTable
	}
	return s.From
}

// Equals represents a column-equals-literal predicate.
//
//	<field> = <value>
//
// Value must be a scalar IRValue (string, int or bool).
type Equals struct {
	Field string
	Value ir.IRValue
}

func (Equals) predicateNode() {}

// BoundEquals represents a column-equals-parameter predicate. The parameter
// value is supplied to the compiler, so one query can be reused across
// executions or nodes.
//
//	BoundEquals{Field: "node_id", BoundVar: "bound.node"}
type BoundEquals struct {
	Field    string
	BoundVar string
}

func (BoundEquals) predicateNode() {}

// And represents a conjunction of predicates. An empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// SeqRange restricts rows to From <= seq <= To. A zero bound is open.
type SeqRange struct {
	From int64
	To   int64
}

func (SeqRange) predicateNode() {}

// Contains matches rows whose array column holds Value.
//
//	Contains{Field: "correlation_ids", Value: "e1"}
type Contains struct {
	Field string
	Value string
}

func (Contains) predicateNode() {}

// ByNode returns a Select over one node's entries.
func ByNode(nodeID string) Select {
	return Select{Filter: Equals{Field: ColNodeID, Value: ir.IRString(nodeID)}}
}

// ByCorrelation returns a Select over entries carrying correlationID.
func ByCorrelation(correlationID string) Select {
	return Select{Filter: Contains{Field: ColCorrelationIDs, Value: correlationID}}
}
