package schemas

// DimensionIndices maps a dimension's dotted namespace name (e.g.
// "DocProducer.segment") to its concrete ordinal index for one job instance.
type DimensionIndices map[string]int

// FanIn describes a job input gathered across a wildcard ("[dim=*]")
// dimension selector: an ordered list of the concrete artifact IDs produced
// across that dimension, in ordinal order.
type FanIn struct {
	Members []string
}

// InputCondition pairs a condition clause (serialized form, evaluated by
// pkg/condition) with the dimension indices in force when the clause was
// attached, so it can be re-evaluated with placeholders substituted.
//
// Required marks whether the conditioned input backs one of the job's
// InputBindings (so dropping it leaves the job unable to run and the whole
// job is marked skipped) versus a merely gating/supplementary input that
// is declared for condition evaluation but never bound to a local produce
// name (dropping it just removes it from the resolved set).
type InputCondition struct {
	Clause   interface{} // condition.Node; interface{} to avoid an import cycle with pkg/condition
	Dims     DimensionIndices
	Required bool
}

// Job is one concrete unit of the producer graph: a single producer instance
// at one point in its loop-fanout space, with its inputs fully resolved to
// canonical IDs.
type Job struct {
	JobID        string
	ProducerName string
	LayerHint    int

	Producer string
	Model    string
	Config   map[string]interface{}

	DeclaredInputs []string // canonical IDs, Input: or Artifact:
	Produces       []string // canonical Artifact: IDs

	InputBindings   map[string]string // local input name -> canonical ID
	InputConditions map[string]InputCondition
	FanIn           map[string]FanIn // keyed by local input name

	DimensionIndices DimensionIndices
}
