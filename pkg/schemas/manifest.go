package schemas

import "time"

// ManifestInput is a manifest's point-in-time record of one input's value.
type ManifestInput struct {
	PayloadDigest string `json:"payloadDigest"`
}

// ManifestArtifact is a manifest's point-in-time record of one artifact.
type ManifestArtifact struct {
	Blob         *BlobRef       `json:"blob,omitempty"`
	Status       ArtefactStatus `json:"status"`
	CreatedAt    time.Time      `json:"createdAt"`
	EditedBy     string         `json:"editedBy,omitempty"`
	OriginalHash string         `json:"originalHash,omitempty"`
}

// Manifest is a point-in-time snapshot of the latest inputs and artefacts
// known for a movie, hash-chained to its predecessor via BaseRevisionHash.
type Manifest struct {
	Revision         string                      `json:"revision"`
	BaseRevision     string                      `json:"baseRevision,omitempty"`
	ManifestBaseHash string                      `json:"manifestBaseHash,omitempty"`
	CreatedAt        time.Time                   `json:"createdAt"`
	Inputs           map[string]ManifestInput    `json:"inputs"`
	Artefacts        map[string]ManifestArtifact `json:"artefacts"`
	RunConfig        map[string]interface{}      `json:"runConfig,omitempty"`
}

// CurrentPointer is the contents of a movie's current.json: the revision and
// manifest path the movie currently resolves to, or both nil mid-execution.
type CurrentPointer struct {
	Revision     *string `json:"revision"`
	ManifestPath *string `json:"manifestPath"`
}
