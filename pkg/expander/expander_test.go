package expander

import (
	"testing"

	"github.com/scenegraph/pipeline/pkg/blueprint"
	"github.com/scenegraph/pipeline/pkg/condition"
)

func TestExpand_SimpleFanout(t *testing.T) {
	tree := blueprint.NewTree()
	root := tree.At(tree.Root())
	root.Loops = []blueprint.Loop{{Name: "segment", CountInput: "Input:NumOfSegments"}}
	root.Producers = []blueprint.Producer{
		{Name: "SegmentNarrator", Produces: []string{"Narration"}, Loops: []string{"segment"}},
	}

	jobs, dims, err := Expand(tree, Inputs{"Input:NumOfSegments": 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := dims["."+"segment"]; got != 3 {
		t.Errorf("got dim size %d, want 3", got)
	}
	if len(jobs) != 3 {
		t.Fatalf("got %d jobs, want 3", len(jobs))
	}
	for _, j := range jobs {
		if len(j.Produces) != 1 {
			t.Errorf("job %s: got %d produced artifacts, want 1", j.JobID, len(j.Produces))
		}
	}
}

func TestExpand_MissingDimensionSize(t *testing.T) {
	tree := blueprint.NewTree()
	root := tree.At(tree.Root())
	root.Loops = []blueprint.Loop{{Name: "segment", CountInput: "Input:NumOfSegments"}}
	root.Producers = []blueprint.Producer{
		{Name: "SegmentNarrator", Produces: []string{"Narration"}, Loops: []string{"segment"}},
	}

	_, _, err := Expand(tree, Inputs{})
	if err == nil {
		t.Fatalf("expected error for unresolved countInput")
	}
}

func TestExpand_MissingInputSource(t *testing.T) {
	tree := blueprint.NewTree()
	root := tree.At(tree.Root())
	root.Producers = []blueprint.Producer{
		{Name: "Exporter", Produces: []string{"Final"}, DeclaredInputs: []string{"script"}},
	}
	root.Connections = []blueprint.Connection{
		{
			Source: blueprint.Endpoint{Ref: "Narrator.Script"},
			Target: blueprint.Endpoint{Ref: "Exporter.script"},
		},
	}

	_, _, err := Expand(tree, Inputs{})
	if err == nil {
		t.Fatalf("expected error: Narrator.Script has no producer and is not a consolidated input")
	}
}

func TestExpand_ConsolidatedInputBinding(t *testing.T) {
	tree := blueprint.NewTree()
	root := tree.At(tree.Root())
	root.Producers = []blueprint.Producer{
		{Name: "Exporter", Produces: []string{"Final"}, DeclaredInputs: []string{"title"}},
	}
	root.Connections = []blueprint.Connection{
		{
			Source: blueprint.Endpoint{Ref: "Title"},
			Target: blueprint.Endpoint{Ref: "Exporter.title"},
		},
	}

	jobs, _, err := Expand(tree, Inputs{"Input:Title": "My Movie"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	if _, ok := jobs[0].InputBindings["title"]; !ok {
		t.Errorf("expected title input binding to be resolved")
	}
}

func TestExpand_ConditionAttachedAsRuntimeNode(t *testing.T) {
	tree := blueprint.NewTree()
	root := tree.At(tree.Root())
	root.Producers = []blueprint.Producer{
		{Name: "Exporter", Produces: []string{"Final"}, DeclaredInputs: []string{"title"}},
	}
	isTrue := true
	root.Connections = []blueprint.Connection{
		{
			Source:    blueprint.Endpoint{Ref: "Title"},
			Target:    blueprint.Endpoint{Ref: "Exporter.title"},
			Condition: &blueprint.ConditionClause{When: "Title", Exists: &isTrue},
		},
	}

	jobs, _, err := Expand(tree, Inputs{"Input:Title": "My Movie"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	canonicalID := jobs[0].InputBindings["title"]
	cond, ok := jobs[0].InputConditions[canonicalID]
	if !ok {
		t.Fatalf("expected a condition attached for %s", canonicalID)
	}
	if _, ok := cond.Clause.(condition.Node); !ok {
		t.Fatalf("expected Clause to be a condition.Node, got %T", cond.Clause)
	}
	if !cond.Required {
		t.Errorf("expected a condition on a bound (non-fan-in) input to be marked required")
	}
}
