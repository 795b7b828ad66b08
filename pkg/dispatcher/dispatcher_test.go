package dispatcher

import (
	"context"
	"fmt"
	"testing"

	"github.com/scenegraph/pipeline/pkg/blobstore"
	"github.com/scenegraph/pipeline/pkg/condition"
	"github.com/scenegraph/pipeline/pkg/eventlog"
	"github.com/scenegraph/pipeline/pkg/manifest"
	"github.com/scenegraph/pipeline/pkg/produce"
	"github.com/scenegraph/pipeline/pkg/schemas"
)

func newTestRunContext(t *testing.T) RunContext {
	t.Helper()
	dir := t.TempDir()
	if err := manifest.InitializeMovieStorage(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return RunContext{
		MovieID:  "movie-1",
		Blobs:    blobstore.New(dir + "/blobs"),
		Log:      eventlog.New(dir + "/events"),
		Manifest: manifest.New(dir),
		Producer: produce.New(nil),
	}
}

func TestExecute_SimpleLayerProducesArtefacts(t *testing.T) {
	rc := newTestRunContext(t)
	plan := schemas.Plan{
		Layers: [][]schemas.Job{
			{{JobID: "Producer:Script", Produces: []string{"Artifact:Script"}}},
		},
	}

	var events []Event
	d := New(nil, nil)
	result, err := d.Execute(context.Background(), rc, plan, Options{
		Concurrency: 2,
		OnProgress:  func(e Event) { events = append(events, e) },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "succeeded" {
		t.Fatalf("got status %q, want succeeded", result.Status)
	}
	if entry, ok := result.Manifest.Artefacts["Artifact:Script"]; !ok || entry.Status != schemas.ArtefactSucceeded {
		t.Errorf("expected Artifact:Script to be recorded as succeeded in the final manifest, got %+v", result.Manifest.Artefacts)
	}

	var sawComplete bool
	for _, e := range events {
		if e.Type == "execution-complete" {
			sawComplete = true
		}
	}
	if !sawComplete {
		t.Errorf("expected an execution-complete progress event")
	}
}

func TestExecute_UpstreamFailureShortCircuits(t *testing.T) {
	rc := newTestRunContext(t)
	if err := rc.Log.AppendArtefact(schemas.ArtefactEvent{ArtefactID: "Artifact:Script", Status: schemas.ArtefactFailed}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	plan := schemas.Plan{
		Layers: [][]schemas.Job{
			{{JobID: "Producer:Export", DeclaredInputs: []string{"Artifact:Script"}, Produces: []string{"Artifact:Final"}}},
		},
	}

	d := New(nil, nil)
	result, err := d.Execute(context.Background(), rc, plan, Options{Concurrency: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry, ok := result.Manifest.Artefacts["Artifact:Final"]
	if !ok || entry.Status != schemas.ArtefactSkipped {
		t.Errorf("expected Artifact:Final to be skipped due to failed upstream, got %+v", entry)
	}
}

func TestExecute_RequiredInputMissingSkipsJob(t *testing.T) {
	rc := newTestRunContext(t)
	plan := schemas.Plan{
		Layers: [][]schemas.Job{
			{{
				JobID:          "Producer:Export",
				DeclaredInputs: []string{"Artifact:Script"},
				Produces:       []string{"Artifact:Final"},
				InputBindings:  map[string]string{"script": "Artifact:Script"},
			}},
		},
	}

	d := New(nil, nil)
	result, err := d.Execute(context.Background(), rc, plan, Options{Concurrency: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry := result.Manifest.Artefacts["Artifact:Final"]; entry.Status != schemas.ArtefactSkipped {
		t.Errorf("expected skip when a required input was never produced, got %+v", entry)
	}
}

func TestExecute_UnsatisfiedConditionDropsOptionalInput(t *testing.T) {
	rc := newTestRunContext(t)
	ref, err := rc.Blobs.Write([]byte(`{"Watermark":false}`), "application/json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := rc.Log.AppendArtefact(schemas.ArtefactEvent{
		ArtefactID: "Artifact:Config.Settings",
		Status:     schemas.ArtefactSucceeded,
		Output:     schemas.ArtefactOutput{Blob: &schemas.BlobRef{Hash: ref.Hash, Size: ref.Size, MimeType: "application/json"}},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Artifact:Config.Settings is declared (so the condition evaluator sees
	// it) but never bound to a local produce name: it's a gating-only input,
	// not required, so an unsatisfied condition just drops it from the
	// resolved set rather than skipping the whole job.
	plan := schemas.Plan{
		Layers: [][]schemas.Job{
			{{
				JobID:          "Producer:Export",
				DeclaredInputs: []string{"Artifact:Config.Settings"},
				Produces:       []string{"Artifact:Final"},
				InputConditions: map[string]schemas.InputCondition{
					"Artifact:Config.Settings": {Clause: condition.Clause{When: "Config.Settings.Watermark", Is: true, HasIs: true}, Required: false},
				},
			}},
		},
	}

	d := New(nil, nil)
	result, err := d.Execute(context.Background(), rc, plan, Options{Concurrency: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry := result.Manifest.Artefacts["Artifact:Final"]; entry.Status != schemas.ArtefactSucceeded {
		t.Errorf("expected the job to still run with the optional input dropped, got %+v", entry)
	}
}

func TestExecute_UnsatisfiedConditionOnRequiredInputSkipsJob(t *testing.T) {
	rc := newTestRunContext(t)
	ref, err := rc.Blobs.Write([]byte(`{"Watermark":false}`), "application/json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := rc.Log.AppendArtefact(schemas.ArtefactEvent{
		ArtefactID: "Artifact:Config.Settings",
		Status:     schemas.ArtefactSucceeded,
		Output:     schemas.ArtefactOutput{Blob: &schemas.BlobRef{Hash: ref.Hash, Size: ref.Size, MimeType: "application/json"}},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	plan := schemas.Plan{
		Layers: [][]schemas.Job{
			{{
				JobID:          "Producer:Export",
				DeclaredInputs: []string{"Artifact:Config.Settings"},
				Produces:       []string{"Artifact:Final"},
				InputBindings:  map[string]string{"settings": "Artifact:Config.Settings"},
				InputConditions: map[string]schemas.InputCondition{
					"Artifact:Config.Settings": {Clause: condition.Clause{When: "Config.Settings.Watermark", Is: true, HasIs: true}, Required: true},
				},
			}},
		},
	}

	d := New(nil, nil)
	result, err := d.Execute(context.Background(), rc, plan, Options{Concurrency: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry, ok := result.Manifest.Artefacts["Artifact:Final"]
	if !ok || entry.Status != schemas.ArtefactSkipped {
		t.Errorf("expected the job to be skipped when a required input is dropped by its condition, got %+v", entry)
	}
	if entry.Blob != nil {
		t.Errorf("expected no blob recorded for a skipped artefact, got %+v", entry.Blob)
	}
}

// TestExecute_ConditionalFanoutSkipsOnlyUnsatisfiedSegment exercises
// spec Scenario C: a loop of 3 Img jobs gated on whether the matching Doc
// segment is an "ImageNarration", with segment 1 failing the condition.
// Exactly the two satisfied segments should succeed; the middle one is
// skipped with no blob/manifest entry for its artefact.
func TestExecute_ConditionalFanoutSkipsOnlyUnsatisfiedSegment(t *testing.T) {
	rc := newTestRunContext(t)
	payload := []byte(`{"Segments":[{"Type":"ImageNarration"},{"Type":"TalkingHead"},{"Type":"ImageNarration"}]}`)
	ref, err := rc.Blobs.Write(payload, "application/json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := rc.Log.AppendArtefact(schemas.ArtefactEvent{
		ArtefactID: "Artifact:Doc.Script",
		Status:     schemas.ArtefactSucceeded,
		Output:     schemas.ArtefactOutput{Blob: &schemas.BlobRef{Hash: ref.Hash, Size: ref.Size, MimeType: "application/json"}},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var layer []schemas.Job
	for seg := 0; seg < 3; seg++ {
		artefactID := fmt.Sprintf("Artifact:Img.Out[%d]", seg)
		layer = append(layer, schemas.Job{
			JobID:          fmt.Sprintf("Producer:Img[%d]", seg),
			DeclaredInputs: []string{"Artifact:Doc.Script"},
			Produces:       []string{artefactID},
			InputBindings:  map[string]string{"doc": "Artifact:Doc.Script"},
			InputConditions: map[string]schemas.InputCondition{
				"Artifact:Doc.Script": {
					Clause:   condition.Clause{When: fmt.Sprintf("Doc.Script.Segments[%d].Type", seg), Is: "ImageNarration", HasIs: true},
					Required: true,
				},
			},
		})
	}

	plan := schemas.Plan{Layers: [][]schemas.Job{layer}}

	d := New(nil, nil)
	result, err := d.Execute(context.Background(), rc, plan, Options{Concurrency: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantStatus := map[string]schemas.ArtefactStatus{
		"Artifact:Img.Out[0]": schemas.ArtefactSucceeded,
		"Artifact:Img.Out[1]": schemas.ArtefactSkipped,
		"Artifact:Img.Out[2]": schemas.ArtefactSucceeded,
	}
	for artefactID, want := range wantStatus {
		entry, ok := result.Manifest.Artefacts[artefactID]
		if !ok {
			t.Fatalf("expected %s to appear in the final manifest", artefactID)
		}
		if entry.Status != want {
			t.Errorf("%s: got status %q, want %q", artefactID, entry.Status, want)
		}
		if want == schemas.ArtefactSkipped && entry.Blob != nil {
			t.Errorf("%s: expected no blob for a skipped artefact, got %+v", artefactID, entry.Blob)
		}
	}
}

func TestExecute_RejectsInvalidConcurrency(t *testing.T) {
	rc := newTestRunContext(t)
	d := New(nil, nil)
	_, err := d.Execute(context.Background(), rc, schemas.Plan{}, Options{Concurrency: 0})
	if err == nil {
		t.Fatalf("expected an error for concurrency < 1")
	}
}

func TestExecute_CancellationStopsBeforeLaterLayers(t *testing.T) {
	rc := newTestRunContext(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	plan := schemas.Plan{
		Layers: [][]schemas.Job{
			{{JobID: "Producer:Script", Produces: []string{"Artifact:Script"}}},
		},
	}

	d := New(nil, nil)
	result, err := d.Execute(ctx, rc, plan, Options{Concurrency: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "failed" {
		t.Errorf("expected a cancelled run to report failed status, got %q", result.Status)
	}
}
