package artifact

import (
	"time"

	"github.com/BaSui01/cadflow/mesh"
	"github.com/BaSui01/cadflow/types"
)

// LatestKey addresses the most recently published artifact.
const LatestKey = "latest"

// Artifact is an encoded mesh. It is immutable once built and shared by
// pointer between the dedup cache, the server and every HTTP response.
type Artifact struct {
	Fingerprint   string    `json:"fingerprint"`
	Bytes         []byte    `json:"-"`
	TriangleCount uint32    `json:"triangle_count"`
	ContentType   string    `json:"content_type"`
	CreatedAt     time.Time `json:"created_at"`
}

// New encodes tris as binary STL.
func New(fingerprint string, tris []mesh.Triangle) *Artifact {
	return &Artifact{
		Fingerprint:   fingerprint,
		Bytes:         mesh.Encode(tris),
		TriangleCount: uint32(len(tris)),
		ContentType:   mesh.ContentType,
		CreatedAt:     time.Now().UTC(),
	}
}

// FromBytes wraps already encoded STL after checking its header and length.
func FromBytes(fingerprint string, b []byte, createdAt time.Time) (*Artifact, error) {
	n, err := mesh.ReadTriangleCount(b)
	if err != nil {
		return nil, types.NewError(types.ErrDecodeError, "invalid artifact bytes").WithCause(err).WithStage(types.StageFetch)
	}
	if len(b) < mesh.MinSize+mesh.TriangleSize*n {
		return nil, types.NewError(types.ErrDecodeError, "artifact bytes truncated").WithStage(types.StageFetch)
	}
	return &Artifact{
		Fingerprint:   fingerprint,
		Bytes:         b,
		TriangleCount: uint32(n),
		ContentType:   mesh.ContentType,
		CreatedAt:     createdAt,
	}, nil
}

// Size is the encoded length in bytes.
func (a *Artifact) Size() int { return len(a.Bytes) }

// Event announces a publish to subscribers.
type Event struct {
	Type          string    `json:"type"`
	Fingerprint   string    `json:"fingerprint"`
	TriangleCount uint32    `json:"triangle_count"`
	Size          int       `json:"size"`
	PublishedAt   time.Time `json:"published_at"`
}

// EventPublished is the only event type emitted today.
const EventPublished = "artifact.published"
