package manifest

import (
	"fmt"
	"time"

	"github.com/scenegraph/pipeline/pkg/blobstore"
	"github.com/scenegraph/pipeline/pkg/eventlog"
	"github.com/scenegraph/pipeline/pkg/schemas"
)

// ApplyEdit overwrites artifactID with user-supplied content: it writes
// content to the blob store and appends a "succeeded" ArtefactEvent stamped
// with editedBy, so that resolution (pkg/resolver) and manifest rebuilds
// (BuildManifestFromLog) treat it as the latest, authoritative output until
// a Restore is appended (spec.md §8: "editedBy=user entries override
// producer output until a restore event is appended").
//
// originalHash is carried forward across a chain of edits rather than
// reset on each one: it is seeded from the artifact's current latest event
// (preferring that event's own OriginalHash if it is itself an edit) so
// that after N successive edits, originalHash still names the first
// producer-generated hash (spec.md §8 property 5).
func ApplyEdit(log *eventlog.Log, blobs *blobstore.Store, artifactID string, content []byte, mimeType string, editedBy string) (schemas.ArtefactEvent, error) {
	if editedBy == "" {
		return schemas.ArtefactEvent{}, fmt.Errorf("manifest: ApplyEdit requires a non-empty editedBy")
	}

	ref, err := blobs.Write(content, mimeType)
	if err != nil {
		return schemas.ArtefactEvent{}, fmt.Errorf("manifest: writing edited blob: %w", err)
	}

	latest, err := log.AnyLatestPerArtefact()
	if err != nil {
		return schemas.ArtefactEvent{}, err
	}

	originalHash := ref.Hash
	if prev, ok := latest[artifactID]; ok {
		switch {
		case prev.OriginalHash != "":
			originalHash = prev.OriginalHash
		case prev.Output.Blob != nil:
			originalHash = prev.Output.Blob.Hash
		}
	}

	event := schemas.ArtefactEvent{
		ArtefactID:   artifactID,
		Status:       schemas.ArtefactSucceeded,
		Output:       schemas.ArtefactOutput{Blob: &schemas.BlobRef{Hash: ref.Hash, Size: ref.Size, MimeType: mimeType}},
		ProducedBy:   "user-edit",
		CreatedAt:    time.Now().UTC(),
		EditedBy:     editedBy,
		OriginalHash: originalHash,
	}
	if err := log.AppendArtefact(event); err != nil {
		return schemas.ArtefactEvent{}, err
	}
	return event, nil
}

// Restore undoes a chain of user edits on artifactID: it appends a fresh
// "succeeded" event that re-points at originalHash and carries no
// editedBy, so latest-event lookups (resolver.Resolve,
// BuildManifestFromLog) go back to seeing the first producer-generated
// output (spec.md §8 property 6: "edit → restore produces the original
// hash and strips editedBy"). It is an error to restore an artifact that
// was never edited.
func Restore(log *eventlog.Log, blobs *blobstore.Store, artifactID string) (schemas.ArtefactEvent, error) {
	latest, err := log.AnyLatestPerArtefact()
	if err != nil {
		return schemas.ArtefactEvent{}, err
	}
	prev, ok := latest[artifactID]
	if !ok || prev.OriginalHash == "" {
		return schemas.ArtefactEvent{}, fmt.Errorf("manifest: %s has no edit to restore", artifactID)
	}

	original, err := findEventByBlobHash(log, artifactID, prev.OriginalHash)
	if err != nil {
		return schemas.ArtefactEvent{}, err
	}
	if original.Output.Blob == nil {
		return schemas.ArtefactEvent{}, fmt.Errorf("manifest: original event for %s has no blob", artifactID)
	}
	if exists, err := blobs.Exists(prev.OriginalHash); err != nil {
		return schemas.ArtefactEvent{}, err
	} else if !exists {
		return schemas.ArtefactEvent{}, fmt.Errorf("manifest: original blob %s for %s no longer exists", prev.OriginalHash, artifactID)
	}

	event := schemas.ArtefactEvent{
		ArtefactID: artifactID,
		Status:     schemas.ArtefactSucceeded,
		Output:     schemas.ArtefactOutput{Blob: original.Output.Blob},
		ProducedBy: original.ProducedBy,
		CreatedAt:  time.Now().UTC(),
	}
	if err := log.AppendArtefact(event); err != nil {
		return schemas.ArtefactEvent{}, err
	}
	return event, nil
}

// findEventByBlobHash replays artefacts.log for artifactID, returning the
// first event whose output blob carries hash. originalHash always names a
// producer event (the one an edit chain started from), so this recovers
// that event's size and mimeType for the restore.
func findEventByBlobHash(log *eventlog.Log, artifactID, hash string) (schemas.ArtefactEvent, error) {
	var found schemas.ArtefactEvent
	var ok bool
	err := log.StreamArtefacts(func(e schemas.ArtefactEvent) {
		if ok || e.ArtefactID != artifactID || e.Output.Blob == nil || e.Output.Blob.Hash != hash {
			return
		}
		found = e
		ok = true
	})
	if err != nil {
		return schemas.ArtefactEvent{}, err
	}
	if !ok {
		return schemas.ArtefactEvent{}, fmt.Errorf("manifest: no event for %s with blob hash %s", artifactID, hash)
	}
	return found, nil
}
