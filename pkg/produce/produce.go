// Package produce implements the uniform produce(request) -> result contract
// the dispatcher calls once per job: a live mode that defers to a
// caller-supplied provider table, and a simulated mode that renders
// real, distinguishable PNG blobs so conditional-branch and fan-out tests
// have something concrete to assert against.
package produce

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/scenegraph/pipeline/pkg/schemas"
)

// BlobData is the raw payload a produced artifact carries before it is
// written to the blob store.
type BlobData struct {
	Data     []byte
	MimeType string
}

// ArtefactResult is one entry of a produce call's Result.Artefacts.
type ArtefactResult struct {
	ArtefactID  string
	Status      schemas.ArtefactStatus
	Blob        *BlobData
	Diagnostics string
}

// Request is the input to a single produce invocation: one job, the inputs
// the dispatcher already resolved for it, and run bookkeeping.
type Request struct {
	MovieID        string
	Job            schemas.Job
	LayerIndex     int
	Attempt        int
	Revision       string
	ResolvedInputs map[string]interface{}
}

// Result is a produce call's outcome.
type Result struct {
	Status    schemas.ArtefactStatus
	Artefacts []ArtefactResult
}

// ProviderFunc performs a live produce call for one producer name.
type ProviderFunc func(ctx context.Context, req Request) (Result, error)

// LiveDispatch resolves a producer name to a live provider handler. The CLI
// wires nothing into it by default (provider handlers are out of scope);
// Producer falls back to the simulated backend whenever Handle reports false.
type LiveDispatch interface {
	Handle(producerName string) (ProviderFunc, bool)
}

// Producer is the produce contract's entry point.
type Producer struct {
	Live LiveDispatch
}

// New returns a Producer. live may be nil, in which case every call is
// simulated.
func New(live LiveDispatch) *Producer {
	return &Producer{Live: live}
}

// Produce resolves req.Job.ProducerName against Live (if set) before
// falling back to the simulated backend.
func (p *Producer) Produce(ctx context.Context, req Request) (Result, error) {
	if p.Live != nil {
		if fn, ok := p.Live.Handle(req.Job.ProducerName); ok {
			return fn(ctx, req)
		}
	}
	return simulate(req)
}

// simulate renders one PNG artefact per req.Job.Produces: a solid color
// keyed by producer name with the artefact ID and dimension indices burned
// in as text, so downstream assertions can tell artefacts apart without a
// live provider. When Job.Config declares conditionHints.mode=="alternating",
// the rendered text also carries the alternating enum value so conditional
// branches see different content at different ordinal indices (spec.md §4.10
// property 8: over an enum of size k, index i produces v[i mod k]).
func simulate(req Request) (Result, error) {
	values, alternating := conditionHintsAlternating(req.Job.Config)

	var artefacts []ArtefactResult
	for _, artefactID := range req.Job.Produces {
		label := artefactID
		if alternating {
			label += fmt.Sprintf(" [%s]", alternatingValue(req.Job.DimensionIndices, values))
		}

		data, err := renderPlaceholder(req.Job.ProducerName, label)
		if err != nil {
			return Result{}, &schemas.EngineError{
				Code:     schemas.ErrGraphExpansionError,
				Message:  fmt.Sprintf("simulated produce failed to render %s: %v", artefactID, err),
				Location: artefactID,
				Cause:    err,
			}
		}

		artefacts = append(artefacts, ArtefactResult{
			ArtefactID: artefactID,
			Status:     schemas.ArtefactSucceeded,
			Blob:       &BlobData{Data: data, MimeType: "image/png"},
		})
	}

	return Result{Status: schemas.ArtefactSucceeded, Artefacts: artefacts}, nil
}

// defaultAlternatingValues is the fallback enum (k=2) used when
// conditionHints carries no explicit "values" list: plain boolean
// alternation, the common case for conditional branch tests.
var defaultAlternatingValues = []string{"false", "true"}

// conditionHintsAlternating reports whether config requests alternating
// mode and, if so, the enum of size k to alternate over (falling back to
// defaultAlternatingValues when "values" is absent).
func conditionHintsAlternating(config map[string]interface{}) ([]string, bool) {
	hints, ok := config["conditionHints"].(map[string]interface{})
	if !ok {
		return nil, false
	}
	mode, _ := hints["mode"].(string)
	if mode != "alternating" {
		return nil, false
	}

	raw, ok := hints["values"].([]interface{})
	if !ok || len(raw) == 0 {
		return defaultAlternatingValues, true
	}
	values := make([]string, len(raw))
	for i, v := range raw {
		values[i] = fmt.Sprintf("%v", v)
	}
	return values, true
}

// alternatingValue derives v[i mod k] from a job's dimension indices and an
// enum of size k, so that sibling jobs along the same loop cycle through
// every value deterministically rather than only ever seeing two.
func alternatingValue(dims schemas.DimensionIndices, values []string) string {
	if len(values) == 0 {
		return ""
	}
	sum := 0
	for _, idx := range dims {
		sum += idx
	}
	return values[sum%len(values)]
}

const placeholderSize = 256

func renderPlaceholder(producerName, label string) ([]byte, error) {
	dc := gg.NewContext(placeholderSize, placeholderSize)
	r, g, b := colorFor(producerName)
	dc.SetRGB(r, g, b)
	dc.Clear()

	dc.SetFontFace(basicfont.Face7x13)
	dc.SetRGB(1, 1, 1)
	dc.DrawStringWrapped(label, 8, 8, 0, 0, placeholderSize-16, 1.5, gg.AlignLeft)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// colorFor derives a stable RGB triple from a producer name so that every
// job of the same producer renders the same background color.
func colorFor(producerName string) (r, g, b float64) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(producerName))
	sum := h.Sum32()
	r = float64(sum&0xFF) / 255
	g = float64((sum>>8)&0xFF) / 255
	b = float64((sum>>16)&0xFF) / 255
	return r, g, b
}
