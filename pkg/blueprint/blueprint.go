// Package blueprint holds the rooted tree of declarative pipeline nodes that
// the graph expander consumes: documents, loops, producers, and the
// connections wiring their inputs and outputs together.
//
// The tree is represented as a flat arena (Tree.Nodes) with integer
// parent/child indices rather than owning pointers, since children and
// aliased parents can reference each other across what would otherwise be
// cyclic Go pointer structures; the expander walks it read-only and never
// mutates it.
package blueprint

// NodeIndex is an arena-relative reference into Tree.Nodes. The zero value
// is the root (the arena's root always lives at index 0); NoNode marks
// "no node".
type NodeIndex int

const NoNode NodeIndex = -1

// Node is one blueprint document plus its position in the tree: its own
// namespace path, its parent, and the aliases under which its children are
// reachable.
type Node struct {
	NamespacePath []string // dotted path from the root, e.g. ["DocProducer"]
	Parent        NodeIndex
	Children      map[string]NodeIndex // local alias -> child node

	Inputs      []Input
	Artifacts   []ArtifactDecl
	Loops       []Loop
	Producers   []Producer
	Connections []Connection
}

// Input is a leaf value declared at this node's scope.
type Input struct {
	Name  string
	Value interface{}
}

// ArtifactDecl declares an artifact-shaped slot a producer in this scope
// will fill; it carries no value, just the name and optional schema hint.
type ArtifactDecl struct {
	Name   string
	Schema map[string]interface{}
}

// Loop is a fanout dimension: it resolves CountInput to an integer N and
// every Producer listing this loop in its Loops runs N times along it.
type Loop struct {
	Name       string
	CountInput string // canonical Input: or Artifact: ID resolving to an int
}

// Producer declares one node that will become one-or-more Jobs after
// fanout, one per point in its loop-dimension space.
type Producer struct {
	Name     string
	Provider string
	Model    string
	Config   map[string]interface{}

	DeclaredInputs []string // local names, resolved against Connections
	Produces       []string // artifact names this producer fills
	Loops          []string // loop names (local) this producer fans out over
}

// EndpointSelector is a dimension selector attached to a connection
// endpoint: free ("[dim]", expand), pinned ("[dim=N]"), or collecting
// ("[dim=*]", fan-in).
type EndpointSelector struct {
	Dimension string
	Free      bool
	Pinned    bool
	PinValue  int
	Collect   bool
}

// Endpoint is one side of a Connection: a dotted reference (resolved within
// the node's namespace during alias resolution) plus optional selectors.
type Endpoint struct {
	Ref       string
	Selectors []EndpointSelector
}

// Connection wires a source endpoint to a target endpoint, optionally
// gated by a condition clause evaluated at runtime against resolved
// artifact payloads.
type Connection struct {
	Source    Endpoint
	Target    Endpoint
	Condition *ConditionClause
}

// ConditionClause mirrors pkg/condition's clause shape in blueprint-source
// form (string-keyed, as parsed from the blueprint document) before it is
// converted to condition.Node by the expander.
type ConditionClause struct {
	When string

	Is             interface{}
	IsNot          interface{}
	Contains       interface{}
	GreaterThan    *float64
	LessThan       *float64
	GreaterOrEqual *float64
	LessOrEqual    *float64
	Exists         *bool
	Matches        string

	All []ConditionClause
	Any []ConditionClause
}

// Tree is the arena holding every Node in a blueprint, root at Nodes[0].
type Tree struct {
	Nodes []Node
}

// NewTree creates a Tree with a single root node at index 0.
func NewTree() *Tree {
	return &Tree{Nodes: []Node{{Parent: NoNode, Children: map[string]NodeIndex{}}}}
}

// Root returns the arena index of the tree's root node.
func (t *Tree) Root() NodeIndex {
	return 0
}

// AddChild appends a new node as a child of parent under the given local
// alias, returning the new node's index.
func (t *Tree) AddChild(parent NodeIndex, alias string) NodeIndex {
	parentNode := &t.Nodes[parent]
	childPath := append(append([]string{}, parentNode.NamespacePath...), alias)
	idx := NodeIndex(len(t.Nodes))
	t.Nodes = append(t.Nodes, Node{
		NamespacePath: childPath,
		Parent:        parent,
		Children:      map[string]NodeIndex{},
	})
	parentNode.Children[alias] = idx
	return idx
}

// At returns the node at idx.
func (t *Tree) At(idx NodeIndex) *Node {
	return &t.Nodes[idx]
}
