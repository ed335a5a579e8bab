package publisher

import (
	"context"
	"log/slog"
	"strings"
)

// LogPublisher only logs what it would do. It is used when no hosting
// backend is configured.
type LogPublisher struct {
	BaseURL string
}

func (p LogPublisher) Publish(_ context.Context, name string, files map[string][]byte) (Artifact, error) {
	slog.Info("publisher: publish (log only)", "name", name, "files", len(files))
	return Artifact{ID: name, URL: strings.TrimRight(p.BaseURL, "/") + "/" + name}, nil
}

func (p LogPublisher) Archive(_ context.Context, id string) error {
	slog.Info("publisher: archive (log only)", "id", id)
	return nil
}

func (p LogPublisher) Unarchive(_ context.Context, id string) error {
	slog.Info("publisher: unarchive (log only)", "id", id)
	return nil
}

func (p LogPublisher) Teardown(_ context.Context, id string) error {
	slog.Info("publisher: teardown (log only)", "id", id)
	return nil
}
