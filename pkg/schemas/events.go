package schemas

import "time"

// ArtefactStatus is the terminal state of one artefact production attempt.
type ArtefactStatus string

const (
	ArtefactSucceeded ArtefactStatus = "succeeded"
	ArtefactFailed    ArtefactStatus = "failed"
	ArtefactSkipped   ArtefactStatus = "skipped"
)

// InputEvent is one append-only record in a movie's inputs.log.
type InputEvent struct {
	ID            string      `json:"id"`
	Payload       interface{} `json:"payload"`
	PayloadDigest string      `json:"payloadDigest"`
	Revision      string      `json:"revision"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// BlobRef points at a stored blob by content hash.
type BlobRef struct {
	Hash     string `json:"hash"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// SkipInfo records why an artefact was skipped instead of produced.
type SkipInfo struct {
	Reason string `json:"reason"`
}

// FailureInfo records why an artefact production attempt failed.
type FailureInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ArtefactOutput is the tagged union of what a produced artefact carries,
// discriminated by ArtefactEvent.Status: Blob set only on succeeded, Failure
// only on failed, Skipped only on skipped.
type ArtefactOutput struct {
	Blob    *BlobRef     `json:"blob,omitempty"`
	Failure *FailureInfo `json:"failure,omitempty"`
	Skipped *SkipInfo    `json:"skipped,omitempty"`
}

// ArtefactEvent is one append-only record in a movie's artefacts.log.
type ArtefactEvent struct {
	ArtefactID string         `json:"artefactId"`
	Revision   string         `json:"revision"`
	InputsHash string         `json:"inputsHash"`
	Output     ArtefactOutput `json:"output"`
	Status     ArtefactStatus `json:"status"`
	ProducedBy string         `json:"producedBy"`
	CreatedAt  time.Time      `json:"createdAt"`

	EditedBy     string `json:"editedBy,omitempty"`
	OriginalHash string `json:"originalHash,omitempty"`
}
