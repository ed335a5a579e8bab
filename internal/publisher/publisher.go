package publisher

import "context"

// Artifact identifies a published static site.
type Artifact struct {
	ID  string
	URL string
}

// Publisher abstracts the static hosting backend. Archive, Unarchive and
// Teardown are driven by the lifecycle engine; their failures never block a
// state transition.
type Publisher interface {
	// Publish uploads files under name and makes them reachable.
	Publish(ctx context.Context, name string, files map[string][]byte) (Artifact, error)

	// Archive takes the artifact offline without destroying it.
	Archive(ctx context.Context, id string) error

	// Unarchive brings an archived artifact back online.
	Unarchive(ctx context.Context, id string) error

	// Teardown destroys the artifact.
	Teardown(ctx context.Context, id string) error
}
