package ir

// NodeType names one variant of the closed set of node kinds.
type NodeType string

const (
	NodeDataSource  NodeType = "DataSource"
	NodeQueue       NodeType = "Queue"
	NodeProcess     NodeType = "ProcessNode"
	NodeFSM         NodeType = "FSM"
	NodeSink        NodeType = "Sink"
	NodeMultiplexer NodeType = "Multiplexer"
)

// ValidNodeTypes defines the closed set of node types.
var ValidNodeTypes = map[NodeType]bool{
	NodeDataSource:  true,
	NodeQueue:       true,
	NodeProcess:     true,
	NodeFSM:         true,
	NodeSink:        true,
	NodeMultiplexer: true,
}

// Output is a named edge from a node to an input of another node.
// Edges are implicit in node outputs; there is no separate edge list.
type Output struct {
	Name                 string `json:"name" yaml:"name"`
	DestinationNodeID    string `json:"destination_node_id" yaml:"destination_node_id"`
	DestinationInputName string `json:"destination_input_name" yaml:"destination_input_name"`
}

// NodeConfig is the static definition of a node.
// Exactly the config block matching Type is consulted.
type NodeConfig struct {
	ID          string             `json:"id" yaml:"id"`
	Type        NodeType           `json:"type" yaml:"type"`
	Name        string             `json:"name,omitempty" yaml:"name,omitempty"`
	Tags        []string           `json:"tags,omitempty" yaml:"tags,omitempty"`
	Outputs     []Output           `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Queue       *QueueConfig       `json:"queue,omitempty" yaml:"queue,omitempty"`
	Process     *ProcessConfig     `json:"process,omitempty" yaml:"process,omitempty"`
	FSM         *FSMConfig         `json:"fsm,omitempty" yaml:"fsm,omitempty"`
	Sink        *SinkConfig        `json:"sink,omitempty" yaml:"sink,omitempty"`
	Multiplexer *MultiplexerConfig `json:"multiplexer,omitempty" yaml:"multiplexer,omitempty"`
}

// OutputNames returns the declared output names in order.
func (n *NodeConfig) OutputNames() []string {
	names := make([]string, len(n.Outputs))
	for i, o := range n.Outputs {
		names[i] = o.Name
	}
	return names
}

// HasOutput reports whether the node declares an output with this name.
func (n *NodeConfig) HasOutput(name string) bool {
	for _, o := range n.Outputs {
		if o.Name == name {
			return true
		}
	}
	return false
}

// QueueConfig configures a Queue node. Exactly one of BatchSize and
// WindowSize is positive.
type QueueConfig struct {
	BatchSize  int    `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	WindowSize int64  `json:"window_size,omitempty" yaml:"window_size,omitempty"`
	// Aggregation is a reducer name (sum, average, count, first, last, min,
	// max) or an expression over `values`. Defaults to sum.
	Aggregation string `json:"aggregation,omitempty" yaml:"aggregation,omitempty"`
	Output      string `json:"output,omitempty" yaml:"output,omitempty"`
}

// IsWindowed reports whether the queue aggregates by time window.
func (q *QueueConfig) IsWindowed() bool {
	return q.WindowSize > 0
}

// ProcessInput names one input of a ProcessNode.
type ProcessInput struct {
	Name string `json:"name" yaml:"name"`
	// Alias is the variable name the formula uses. Defaults to Name.
	Alias    string `json:"alias,omitempty" yaml:"alias,omitempty"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// VarName returns the formula variable bound to this input.
func (p ProcessInput) VarName() string {
	if p.Alias != "" {
		return p.Alias
	}
	return p.Name
}

// ProcessConfig configures a ProcessNode.
type ProcessConfig struct {
	Inputs         []ProcessInput `json:"inputs" yaml:"inputs"`
	ProcessingTime int64          `json:"processing_time" yaml:"processing_time"`
	// Formula is evaluated over the input aliases. With a single input and no
	// formula the input value passes through unchanged.
	Formula string `json:"formula,omitempty" yaml:"formula,omitempty"`
	Output  string `json:"output,omitempty" yaml:"output,omitempty"`
}

// HasInput reports whether the process node declares the named input.
func (p *ProcessConfig) HasInput(name string) bool {
	for _, in := range p.Inputs {
		if in.Name == name {
			return true
		}
	}
	return false
}

// FSMActionType names what an FSM transition does besides changing state.
type FSMActionType string

const (
	FSMActionEmit FSMActionType = "emit"
	FSMActionLog  FSMActionType = "log"
)

// FSMAction is one step in a transition's action list.
type FSMAction struct {
	Type FSMActionType `json:"type" yaml:"type"`
	// Formula computes the emitted value. Empty emits the input value.
	Formula string `json:"formula,omitempty" yaml:"formula,omitempty"`
	Output  string `json:"output,omitempty" yaml:"output,omitempty"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// FSMTransition is a guarded edge between FSM states.
// From may be "*" to match any current state. An empty Guard always matches.
type FSMTransition struct {
	From    string      `json:"from" yaml:"from"`
	To      string      `json:"to" yaml:"to"`
	Guard   string      `json:"guard,omitempty" yaml:"guard,omitempty"`
	Actions []FSMAction `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// AnyState matches every current state in FSMTransition.From.
const AnyState = "*"

// FSMConfig configures an FSM node.
type FSMConfig struct {
	InitialState string          `json:"initial_state" yaml:"initial_state"`
	States       []string        `json:"states,omitempty" yaml:"states,omitempty"`
	Transitions  []FSMTransition `json:"transitions" yaml:"transitions"`
}

// SinkConfig configures a Sink node.
type SinkConfig struct {
	// Aggregation is sum, count, average, latest, earliest, min, max, or an
	// expression over `values`. Defaults to sum.
	Aggregation string `json:"aggregation,omitempty" yaml:"aggregation,omitempty"`
}

// MuxMode selects how many routes a Multiplexer follows.
type MuxMode string

const (
	MuxFirst MuxMode = "first"
	MuxAll   MuxMode = "all"
)

// Route is a conditional branch of a Multiplexer.
type Route struct {
	Output    string `json:"output" yaml:"output"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Priority  int    `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// MultiplexerConfig configures a Multiplexer node.
type MultiplexerConfig struct {
	Routes        []Route `json:"routes" yaml:"routes"`
	Mode          MuxMode `json:"mode,omitempty" yaml:"mode,omitempty"`
	DefaultOutput string  `json:"default_output,omitempty" yaml:"default_output,omitempty"`
}

// Scenario is a loadable graph plus the external events to inject.
type Scenario struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	StartAt     int64           `json:"start_at,omitempty" yaml:"start_at,omitempty"`
	Nodes       []NodeConfig    `json:"nodes" yaml:"nodes"`
	Events      []ExternalEvent `json:"events,omitempty" yaml:"events,omitempty"`
}

// Node returns the node with the given id, or nil.
func (s *Scenario) Node(id string) *NodeConfig {
	for i := range s.Nodes {
		if s.Nodes[i].ID == id {
			return &s.Nodes[i]
		}
	}
	return nil
}

// ExternalEvent is an event supplied from outside the engine.
// The engine wraps it into a DataEmit targeted at TargetNodeID, or at Source
// when no target is given.
type ExternalEvent struct {
	ID           string `json:"id,omitempty" yaml:"id,omitempty"`
	Timestamp    int64  `json:"timestamp" yaml:"timestamp"`
	Type         string `json:"type,omitempty" yaml:"type,omitempty"`
	Source       string `json:"source,omitempty" yaml:"source,omitempty"`
	TargetNodeID string `json:"target_node_id,omitempty" yaml:"target_node_id,omitempty"`
	Data         any    `json:"data" yaml:"data"`
}

// Target returns the node the event is delivered to.
func (e ExternalEvent) Target() string {
	if e.TargetNodeID != "" {
		return e.TargetNodeID
	}
	return e.Source
}
