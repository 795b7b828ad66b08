package condition

import (
	"testing"
)

func resolvedFixture() map[string]interface{} {
	return map[string]interface{}{
		"DocProducer.VideoScript": map[string]interface{}{
			"Segments": []interface{}{
				map[string]interface{}{"NarrationType": "ImageNarration"},
				map[string]interface{}{"NarrationType": "TalkingHead"},
				map[string]interface{}{"NarrationType": "ImageNarration"},
			},
		},
	}
}

func TestEvaluateClause_IsOperator(t *testing.T) {
	resolved := resolvedFixture()
	clause := Clause{
		When:  "DocProducer.VideoScript.Segments[segment].NarrationType",
		Is:    "ImageNarration",
		HasIs: true,
	}

	for seg, want := range map[int]bool{0: true, 1: false, 2: true} {
		r, err := Evaluate(clause, map[string]int{"segment": seg}, resolved)
		if err != nil {
			t.Fatalf("segment %d: unexpected error: %v", seg, err)
		}
		if r.Satisfied != want {
			t.Errorf("segment %d: got satisfied=%v, want %v", seg, r.Satisfied, want)
		}
	}
}

func TestEvaluateClause_MissingArtifact(t *testing.T) {
	clause := Clause{When: "Missing.Thing.Field", Is: "x", HasIs: true}
	r, err := Evaluate(clause, nil, map[string]interface{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Satisfied {
		t.Errorf("expected unsatisfied for missing artifact")
	}
}

func TestEvaluateClause_ExistsOnMissingPath(t *testing.T) {
	resolved := resolvedFixture()
	falseVal := false
	trueVal := true

	clause := Clause{When: "DocProducer.VideoScript.Segments[9].NarrationType", Exists: &trueVal}
	r, err := Evaluate(clause, map[string]int{"9": 9}, resolved)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Satisfied {
		t.Errorf("expected unsatisfied: out-of-range index should not exist")
	}

	clause2 := Clause{When: "DocProducer.VideoScript.Segments[9].NarrationType", Exists: &falseVal}
	r2, err := Evaluate(clause2, nil, resolved)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r2.Satisfied {
		t.Errorf("expected satisfied: exists=false should match absent path")
	}
}

func TestEvaluateClause_NumericComparisons(t *testing.T) {
	resolved := map[string]interface{}{
		"P.Score": map[string]interface{}{"Value": float64(7)},
	}
	gt := 5.0
	clause := Clause{When: "P.Score.Value", GreaterThan: &gt}
	r, err := Evaluate(clause, nil, resolved)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Satisfied {
		t.Errorf("expected 7 > 5 to be satisfied")
	}
}

func TestEvaluateClause_MatchesInvalidRegex(t *testing.T) {
	resolved := map[string]interface{}{"P.Text": map[string]interface{}{"Value": "abc"}}
	clause := Clause{When: "P.Text.Value", Matches: "("}
	_, err := Evaluate(clause, nil, resolved)
	if err == nil {
		t.Fatalf("expected error for invalid regex")
	}
	evalErr, ok := err.(*EvaluationError)
	if !ok {
		t.Fatalf("expected *EvaluationError, got %T", err)
	}
	if evalErr.Code != "R090" {
		t.Errorf("got code %q, want R090", evalErr.Code)
	}
}

func TestEvaluateGroup_AllAny(t *testing.T) {
	resolved := map[string]interface{}{
		"P.Flags": map[string]interface{}{"A": true, "B": false},
	}
	tru := true
	all := Group{All: []Node{
		Clause{When: "P.Flags.A", Is: true, HasIs: true},
		Clause{When: "P.Flags.B", Exists: &tru},
	}}
	r, err := Evaluate(all, nil, resolved)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Satisfied {
		t.Errorf("expected All group satisfied")
	}

	any := Group{Any: []Node{
		Clause{When: "P.Flags.A", Is: false, HasIs: true},
		Clause{When: "P.Flags.B", Is: false, HasIs: true},
	}}
	r2, err := Evaluate(any, nil, resolved)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r2.Satisfied {
		t.Errorf("expected Any group satisfied (second clause true)")
	}
}
