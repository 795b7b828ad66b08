package produce

import (
	"bytes"
	"context"
	"testing"

	"github.com/scenegraph/pipeline/pkg/schemas"
)

func TestProduce_SimulatedRendersPNGPerArtefact(t *testing.T) {
	p := New(nil)
	req := Request{
		MovieID: "m1",
		Job: schemas.Job{
			JobID:        "Producer:Thumbnail[0]",
			ProducerName: "Thumbnail",
			Produces:     []string{"Artifact:Thumbnail[0]", "Artifact:Thumbnail[1]"},
		},
	}

	result, err := p.Produce(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != schemas.ArtefactSucceeded {
		t.Fatalf("got status %v, want succeeded", result.Status)
	}
	if len(result.Artefacts) != 2 {
		t.Fatalf("got %d artefacts, want 2", len(result.Artefacts))
	}
	for _, a := range result.Artefacts {
		if a.Blob == nil || a.Blob.MimeType != "image/png" {
			t.Fatalf("expected a PNG blob for %s", a.ArtefactID)
		}
		if !bytes.HasPrefix(a.Blob.Data, []byte("\x89PNG")) {
			t.Errorf("expected PNG magic bytes for %s", a.ArtefactID)
		}
	}
}

func TestProduce_AlternatingModeVariesByDimension(t *testing.T) {
	p := New(nil)
	makeReq := func(idx int) Request {
		return Request{
			Job: schemas.Job{
				ProducerName:     "Segment",
				Produces:         []string{"Artifact:Segment[0]"},
				Config:           map[string]interface{}{"conditionHints": map[string]interface{}{"mode": "alternating"}},
				DimensionIndices: schemas.DimensionIndices{"Segment.segment": idx},
			},
		}
	}

	even, err := p.Produce(context.Background(), makeReq(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	odd, err := p.Produce(context.Background(), makeReq(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bytes.Equal(even.Artefacts[0].Blob.Data, odd.Artefacts[0].Blob.Data) {
		t.Errorf("expected alternating mode to render different content for even vs odd ordinal index")
	}
}

func TestProduce_AlternatingModeCyclesThroughEnumOfSizeK(t *testing.T) {
	p := New(nil)
	values := []interface{}{"Intro", "Body", "Outro"}
	makeReq := func(idx int) Request {
		return Request{
			Job: schemas.Job{
				ProducerName: "Segment",
				Produces:     []string{"Artifact:Segment[0]"},
				Config: map[string]interface{}{
					"conditionHints": map[string]interface{}{"mode": "alternating", "values": values},
				},
				DimensionIndices: schemas.DimensionIndices{"Segment.segment": idx},
			},
		}
	}

	seen := map[string]bool{}
	for i := 0; i < len(values); i++ {
		result, err := p.Produce(context.Background(), makeReq(i))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		seen[string(result.Artefacts[0].Blob.Data)] = true
	}
	if len(seen) != len(values) {
		t.Errorf("expected %d distinct renders cycling through the enum, got %d", len(values), len(seen))
	}

	// Index k must repeat index 0's value (v[i mod k]).
	first, err := p.Produce(context.Background(), makeReq(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wrapped, err := p.Produce(context.Background(), makeReq(len(values)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(first.Artefacts[0].Blob.Data, wrapped.Artefacts[0].Blob.Data) {
		t.Errorf("expected index k to wrap around and repeat index 0's value")
	}
}

type fakeLive struct {
	called bool
}

func (f *fakeLive) Handle(producerName string) (ProviderFunc, bool) {
	if producerName != "Live" {
		return nil, false
	}
	return func(ctx context.Context, req Request) (Result, error) {
		f.called = true
		return Result{Status: schemas.ArtefactSucceeded}, nil
	}, true
}

func TestProduce_LiveDispatchTakesPrecedence(t *testing.T) {
	live := &fakeLive{}
	p := New(live)

	_, err := p.Produce(context.Background(), Request{Job: schemas.Job{ProducerName: "Live"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !live.called {
		t.Errorf("expected live handler to be invoked for a producer it claims")
	}

	result, err := p.Produce(context.Background(), Request{Job: schemas.Job{ProducerName: "Other", Produces: []string{"Artifact:X[0]"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Artefacts) != 1 {
		t.Errorf("expected fallback to simulated mode for a producer Live doesn't claim")
	}
}
