// Package expander expands a blueprint tree into a flat producer graph: one
// schemas.Job per concrete point in each producer's loop-fanout space, with
// every declared input resolved to a canonical ID.
package expander

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/scenegraph/pipeline/pkg/blueprint"
	"github.com/scenegraph/pipeline/pkg/condition"
	"github.com/scenegraph/pipeline/pkg/ident"
	"github.com/scenegraph/pipeline/pkg/schemas"
)

// Inputs is the consolidated set of resolved input values, keyed by
// canonical Input: ID, consulted when resolving loop CountInputs and when
// validating that every declared job input has a source.
type Inputs map[string]interface{}

// Expand runs the full seven-step expansion algorithm against tree and the
// consolidated input set, returning the flat job list and the resolved
// dimension size table (namespace.loopName -> N).
func Expand(tree *blueprint.Tree, inputs Inputs) ([]schemas.Job, map[string]int, error) {
	e := &expansion{tree: tree, inputs: inputs, dimSizes: map[string]int{}, resolved: map[string]string{}}

	if err := e.resolveAliases(tree.Root(), nil); err != nil {
		return nil, nil, err
	}
	if err := e.resolveDimensions(tree.Root()); err != nil {
		return nil, nil, err
	}

	var jobs []schemas.Job
	if err := e.fanoutAndBind(tree.Root(), &jobs); err != nil {
		return nil, nil, err
	}

	if err := e.validate(jobs); err != nil {
		return nil, nil, err
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].JobID < jobs[j].JobID })
	return jobs, e.dimSizes, nil
}

type expansion struct {
	tree     *blueprint.Tree
	inputs   Inputs
	dimSizes map[string]int
	// resolved is allocated by Expand but not populated by any step; alias
	// cycle detection uses resolveAliases' visiting stack instead.
	resolved map[string]string
}

func dotted(path []string) string {
	return strings.Join(path, ".")
}

// Step 1: alias resolution. Walks the tree depth-first, detecting cycles
// through the visiting stack; each node's qualified path is already set by
// blueprint.Tree.AddChild, so nothing is recorded here.
func (e *expansion) resolveAliases(idx blueprint.NodeIndex, stack []blueprint.NodeIndex) error {
	for _, s := range stack {
		if s == idx {
			return &schemas.EngineError{Code: schemas.ErrAliasCycleDetected, Message: "alias cycle detected while resolving blueprint tree"}
		}
	}
	node := e.tree.At(idx)
	stack = append(stack, idx)
	for _, child := range node.Children {
		if err := e.resolveAliases(child, stack); err != nil {
			return err
		}
	}
	return nil
}

// Step 2: dimension resolution. Resolves each loop's CountInput to a
// non-negative integer, recording it in e.dimSizes under
// "<node namespace>.<loopName>".
func (e *expansion) resolveDimensions(idx blueprint.NodeIndex) error {
	node := e.tree.At(idx)
	for _, loop := range node.Loops {
		n, err := e.resolveCount(loop.CountInput)
		if err != nil {
			return &schemas.EngineError{Code: schemas.ErrMissingDimensionSize, Message: fmt.Sprintf("loop %q: %v", loop.Name, err), Location: dotted(node.NamespacePath)}
		}
		if n < 0 {
			return &schemas.EngineError{Code: schemas.ErrMissingDimensionSize, Message: fmt.Sprintf("loop %q resolved to negative count %d", loop.Name, n), Location: dotted(node.NamespacePath)}
		}
		key := dotted(node.NamespacePath) + "." + loop.Name
		e.dimSizes[key] = n
	}
	for _, child := range node.Children {
		if err := e.resolveDimensions(child); err != nil {
			return err
		}
	}
	return nil
}

func (e *expansion) resolveCount(ref string) (int, error) {
	v, ok := e.inputs[ref]
	if !ok {
		return 0, fmt.Errorf("countInput %q not found in consolidated inputs", ref)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("countInput %q has non-numeric value %q", ref, n)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("countInput %q has unsupported type %T", ref, v)
	}
}

// ordinalTuple is one concrete point in a producer's loop-dimension space,
// pairing each loop name with its resolved ordinal index.
type ordinalTuple map[string]int

// Steps 3-6: fanout, endpoint resolution, fan-in collectors, condition
// attachment. Walks the tree emitting one Job per producer per point in its
// loop-fanout space.
func (e *expansion) fanoutAndBind(idx blueprint.NodeIndex, out *[]schemas.Job) error {
	node := e.tree.At(idx)
	ns := dotted(node.NamespacePath)

	for _, prod := range node.Producers {
		tuples, err := e.fanoutTuples(ns, prod.Loops)
		if err != nil {
			return err
		}
		for _, tuple := range tuples {
			job, err := e.bindJob(node, prod, tuple)
			if err != nil {
				return err
			}
			*out = append(*out, job)
		}
	}

	for _, child := range node.Children {
		if err := e.fanoutAndBind(child, out); err != nil {
			return err
		}
	}
	return nil
}

// fanoutTuples enumerates |L1| x ... x |Lk| ordinal tuples for a producer
// declared over loops L1..Lk, iterating nested loops in declaration order.
func (e *expansion) fanoutTuples(namespace string, loopNames []string) ([]ordinalTuple, error) {
	if len(loopNames) == 0 {
		return []ordinalTuple{{}}, nil
	}
	sizes := make([]int, len(loopNames))
	for i, name := range loopNames {
		key := namespace + "." + name
		n, ok := e.dimSizes[key]
		if !ok {
			return nil, &schemas.EngineError{Code: schemas.ErrMissingDimensionSize, Message: fmt.Sprintf("loop %q not resolved for %q", name, namespace)}
		}
		sizes[i] = n
	}

	tuples := []ordinalTuple{{}}
	for i, name := range loopNames {
		var next []ordinalTuple
		for _, t := range tuples {
			for idx := 0; idx < sizes[i]; idx++ {
				nt := ordinalTuple{}
				for k, v := range t {
					nt[k] = v
				}
				nt[name] = idx
				next = append(next, nt)
			}
		}
		tuples = next
	}
	return tuples, nil
}

func jobIDFor(ns, producerName string, tuple ordinalTuple, loopOrder []string) string {
	var dims []ident.DimSelector
	for _, name := range loopOrder {
		dims = append(dims, ident.DimSelector{Name: name, Index: tuple[name]})
	}
	path := strings.Split(ns, ".")
	var nsPath []string
	if ns != "" {
		nsPath = append(nsPath, path...)
	}
	return (&ident.JobID{NamespacePath: nsPath, BaseName: producerName, Dims: dims}).Format()
}

func artifactIDFor(ns, name string, tuple ordinalTuple, loopOrder []string) string {
	var dims []ident.DimSelector
	for _, l := range loopOrder {
		if idx, ok := tuple[l]; ok {
			dims = append(dims, ident.DimSelector{Name: l, Index: idx})
		}
	}
	var nsPath []string
	if ns != "" {
		nsPath = strings.Split(ns, ".")
	}
	return ident.FormatCanonicalArtifactID(nsPath, name, dims, "")
}

func (e *expansion) bindJob(node *blueprint.Node, prod blueprint.Producer, tuple ordinalTuple) (schemas.Job, error) {
	ns := dotted(node.NamespacePath)
	jobID := jobIDFor(ns, prod.Name, tuple, prod.Loops)

	job := schemas.Job{
		JobID:            jobID,
		ProducerName:     prod.Name,
		Producer:         prod.Provider,
		Model:            prod.Model,
		Config:           prod.Config,
		InputBindings:    map[string]string{},
		InputConditions:  map[string]schemas.InputCondition{},
		FanIn:            map[string]schemas.FanIn{},
		DimensionIndices: schemas.DimensionIndices{},
	}
	for name, idx := range tuple {
		job.DimensionIndices[ns+"."+name] = idx
	}
	for _, name := range prod.Produces {
		job.Produces = append(job.Produces, artifactIDFor(ns, name, tuple, prod.Loops))
	}
	sort.Strings(job.Produces)

	for _, conn := range node.Connections {
		if !endpointMatchesProducer(conn.Target, prod) {
			continue
		}
		resolvedSource, fanIn, err := e.resolveEndpoint(ns, conn.Source, tuple, prod.Loops)
		if err != nil {
			return schemas.Job{}, err
		}
		localName := localInputName(conn.Target)

		if len(fanIn.Members) > 0 {
			job.FanIn[localName] = fanIn
		} else {
			job.InputBindings[localName] = resolvedSource
			job.DeclaredInputs = append(job.DeclaredInputs, resolvedSource)
		}

		if conn.Condition != nil {
			job.InputConditions[resolvedSource] = schemas.InputCondition{
				Clause:   conditionNodeFrom(*conn.Condition),
				Dims:     cloneDims(job.DimensionIndices),
				Required: len(fanIn.Members) == 0,
			}
		}
	}
	sort.Strings(job.DeclaredInputs)

	return job, nil
}

// conditionNodeFrom converts a blueprint-source condition clause (string
// keyed, as parsed from the blueprint document) into the runtime condition.Node
// the dispatcher evaluates against resolved artifact payloads.
func conditionNodeFrom(c blueprint.ConditionClause) condition.Node {
	if len(c.All) > 0 || len(c.Any) > 0 {
		g := condition.Group{}
		for _, child := range c.All {
			g.All = append(g.All, conditionNodeFrom(child))
		}
		for _, child := range c.Any {
			g.Any = append(g.Any, conditionNodeFrom(child))
		}
		return g
	}

	clause := condition.Clause{
		When:           c.When,
		GreaterThan:    c.GreaterThan,
		LessThan:       c.LessThan,
		GreaterOrEqual: c.GreaterOrEqual,
		LessOrEqual:    c.LessOrEqual,
		Exists:         c.Exists,
		Matches:        c.Matches,
	}
	if c.Is != nil {
		clause.Is, clause.HasIs = c.Is, true
	}
	if c.IsNot != nil {
		clause.IsNot, clause.HasIsNot = c.IsNot, true
	}
	if c.Contains != nil {
		clause.Contains, clause.HasContains = c.Contains, true
	}
	return clause
}

func cloneDims(d schemas.DimensionIndices) schemas.DimensionIndices {
	out := make(schemas.DimensionIndices, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// endpointMatchesProducer reports whether a connection's target endpoint
// names a local input of prod (i.e. "<ProducerName>.<inputName>" or
// "<inputName>" within the producer's own declared inputs).
func endpointMatchesProducer(target blueprint.Endpoint, prod blueprint.Producer) bool {
	ref := target.Ref
	if idx := strings.LastIndexByte(ref, '.'); idx >= 0 {
		owner := ref[:idx]
		if owner == prod.Name {
			return true
		}
	}
	for _, in := range prod.DeclaredInputs {
		if ref == in || strings.HasSuffix(ref, "."+in) {
			return true
		}
	}
	return false
}

func localInputName(target blueprint.Endpoint) string {
	ref := target.Ref
	if idx := strings.LastIndexByte(ref, '.'); idx >= 0 {
		return ref[idx+1:]
	}
	return ref
}

// resolveEndpoint resolves a connection's source endpoint to a canonical ID
// under the current ordinal tuple. A "[dim=*]" selector produces a fan-in
// member list instead of a single ID (step 5); "[dim]" expands using the
// current job's own index for that dimension; "[dim=N]" pins to N.
func (e *expansion) resolveEndpoint(ns string, ep blueprint.Endpoint, tuple ordinalTuple, loopOrder []string) (string, schemas.FanIn, error) {
	for _, sel := range ep.Selectors {
		if sel.Collect {
			size, ok := e.dimSizes[ns+"."+sel.Dimension]
			if !ok {
				return "", schemas.FanIn{}, &schemas.EngineError{Code: schemas.ErrMissingDimensionSize, Message: fmt.Sprintf("collector dimension %q unresolved", sel.Dimension)}
			}
			var members []string
			for i := 0; i < size; i++ {
				t := ordinalTuple{}
				for k, v := range tuple {
					t[k] = v
				}
				t[sel.Dimension] = i
				members = append(members, artifactIDFor(ns, endpointBaseName(ep), t, loopOrder))
			}
			return "", schemas.FanIn{Members: members}, nil
		}
	}

	t := ordinalTuple{}
	for k, v := range tuple {
		t[k] = v
	}
	for _, sel := range ep.Selectors {
		if sel.Pinned {
			t[sel.Dimension] = sel.PinValue
		}
	}

	name := endpointBaseName(ep)
	if strings.HasPrefix(name, "Input:") || isConsolidatedInput(e.inputs, name) {
		return (&ident.InputID{BaseName: name}).Format(), schemas.FanIn{}, nil
	}
	return artifactIDFor(ns, name, t, loopOrder), schemas.FanIn{}, nil
}

func isConsolidatedInput(inputs Inputs, name string) bool {
	_, ok := inputs["Input:"+name]
	return ok
}

func endpointBaseName(ep blueprint.Endpoint) string {
	ref := ep.Ref
	if idx := strings.LastIndexByte(ref, '.'); idx >= 0 {
		return ref[idx+1:]
	}
	return ref
}

// Step 7: validation. Every declared input must resolve to either a
// producer in the graph or a consolidated Input:; dimension sizes must
// already agree (enforced during fanout); the producer-level graph must be
// acyclic.
func (e *expansion) validate(jobs []schemas.Job) error {
	produced := map[string]bool{}
	for _, j := range jobs {
		for _, p := range j.Produces {
			produced[p] = true
		}
	}

	for _, j := range jobs {
		for _, in := range j.DeclaredInputs {
			if strings.HasPrefix(in, "Input:") {
				continue
			}
			if !produced[in] {
				return &schemas.EngineError{Code: schemas.ErrMissingInputSource, Message: fmt.Sprintf("job %q declares input %q with no producer and no consolidated input", j.JobID, in), Location: j.JobID}
			}
		}
	}

	return detectProducerCycles(jobs)
}

func detectProducerCycles(jobs []schemas.Job) error {
	producerOf := map[string]string{}
	for _, j := range jobs {
		for _, p := range j.Produces {
			producerOf[p] = j.JobID
		}
	}
	byJob := map[string]schemas.Job{}
	for _, j := range jobs {
		byJob[j.JobID] = j
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}

	var visit func(jobID string) error
	visit = func(jobID string) error {
		color[jobID] = gray
		for _, in := range byJob[jobID].DeclaredInputs {
			upstream, ok := producerOf[in]
			if !ok {
				continue
			}
			switch color[upstream] {
			case gray:
				return &schemas.EngineError{Code: schemas.ErrCyclicDependency, Message: fmt.Sprintf("cyclic dependency: %s -> %s", jobID, upstream)}
			case white:
				if err := visit(upstream); err != nil {
					return err
				}
			}
		}
		color[jobID] = black
		return nil
	}

	for _, j := range jobs {
		if color[j.JobID] == white {
			if err := visit(j.JobID); err != nil {
				return err
			}
		}
	}
	return nil
}
