package schemas

import "time"

// Plan is the planner's output: jobs grouped into disjoint, dependency-
// ordered layers. Every input of a job in layer k is either an Input:, an
// Artifact: produced by a job in a layer < k, or already present in the
// base manifest.
type Plan struct {
	Revision            string    `json:"revision"`
	ManifestBaseHash    string    `json:"manifestBaseHash,omitempty"`
	Layers              [][]Job   `json:"layers"`
	BlueprintLayerCount int       `json:"blueprintLayerCount"`
	CreatedAt           time.Time `json:"createdAt"`

	// SkippedJobs carries jobs in layers dropped by a reRunFrom filter, kept
	// for traceability rather than silently discarded.
	SkippedJobs []Job `json:"skippedJobs,omitempty"`
}
