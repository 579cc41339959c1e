// Package store keeps persisted-artifact and pipeline-run records.
//
// Artifact records are keyed by their deterministic id (see
// jobs.ArtifactID), so at most one record exists per (owner, source
// location) pair. CreateArtifact is a conditional insert: when two
// invocations race on the same id, exactly one wins and the other reads
// back the winner's record. Run records are plain upserts written on
// every coordinator state transition.
package store

import (
	"context"
	"time"
)

// RunTTL is how long run records are kept. Artifacts never expire.
const RunTTL = 7 * 24 * time.Hour

// ArtifactStore persists artifact and run records. Implementations are
// safe for concurrent use.
//
// Get methods return (nil, nil) when the record does not exist.
type ArtifactStore interface {
	// GetArtifact retrieves an artifact by id.
	GetArtifact(ctx context.Context, id string) (*Artifact, error)

	// CreateArtifact inserts a only if no record with a.ID exists. It
	// reports whether this call created the record.
	CreateArtifact(ctx context.Context, a *Artifact) (bool, error)

	// PutRun creates or replaces a run record.
	PutRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by id.
	GetRun(ctx context.Context, id string) (*Run, error)
}

// Artifact is a durable, published pipeline output.
type Artifact struct {
	ID          string            `json:"id" dynamodbav:"-"`
	OwnerID     string            `json:"ownerId" dynamodbav:"ownerId"`
	SourceKey   string            `json:"sourceLocationKey" dynamodbav:"sourceKey"`
	DurableURL  string            `json:"durableUrl" dynamodbav:"durableUrl"`
	MimeType    string            `json:"mimeType,omitempty" dynamodbav:"mimeType,omitempty"`
	SizeBytes   int64             `json:"sizeBytes,omitempty" dynamodbav:"sizeBytes,omitempty"`
	Degraded    bool              `json:"degraded,omitempty" dynamodbav:"degraded,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
	CreatedAt   int64             `json:"createdAt" dynamodbav:"createdAt"`
	IsDuplicate bool              `json:"isDuplicate" dynamodbav:"-"`
}

// Run is the record of one coordinator invocation.
type Run struct {
	ID           string       `json:"id" dynamodbav:"-"`
	Operation    string       `json:"operation" dynamodbav:"operation"`
	OwnerID      string       `json:"ownerId,omitempty" dynamodbav:"ownerId,omitempty"`
	State        string       `json:"state" dynamodbav:"state"`
	ErrorKind    string       `json:"errorKind,omitempty" dynamodbav:"errorKind,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty" dynamodbav:"errorMessage,omitempty"`
	ImageURL     string       `json:"imageUrl,omitempty" dynamodbav:"imageUrl,omitempty"`
	VideoURL     string       `json:"videoUrl,omitempty" dynamodbav:"videoUrl,omitempty"`
	ResultURL    string       `json:"resultUrl,omitempty" dynamodbav:"resultUrl,omitempty"`
	ArtifactID   string       `json:"artifactId,omitempty" dynamodbav:"artifactId,omitempty"`
	History      []Transition `json:"history,omitempty" dynamodbav:"history,omitempty"`
	CreatedAt    int64        `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt    int64        `json:"updatedAt" dynamodbav:"updatedAt"`
}

// Transition is one entry in a run's state history.
type Transition struct {
	State  string `json:"state" dynamodbav:"state"`
	At     int64  `json:"at" dynamodbav:"at"` // Unix millis
	Detail string `json:"detail,omitempty" dynamodbav:"detail,omitempty"`
}

// clone returns a deep copy so callers cannot mutate stored records.
func (a *Artifact) clone() *Artifact {
	c := *a
	if a.Metadata != nil {
		c.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func (r *Run) clone() *Run {
	c := *r
	c.History = append([]Transition(nil), r.History...)
	return &c
}
