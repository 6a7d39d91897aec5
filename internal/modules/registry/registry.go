// Package registry persists trained model artifacts keyed by (entity, variant).
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aristath/rateintel/internal/modules/forecasting"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// FormatVersion is the current artifact envelope version.
const FormatVersion = 1

const (
	keyRoot      = "models"
	keyExtension = ".msgpack"
)

// Artifact is a trained model plus everything needed to predict without retraining.
// State is the variant's own encoding, including scaler statistics.
type Artifact struct {
	FormatVersion int                 `msgpack:"format_version"`
	EntityID      string              `msgpack:"entity_id"`
	Variant       string              `msgpack:"variant"`
	State         []byte              `msgpack:"state"`
	FeatureSchema []string            `msgpack:"feature_schema"`
	Metrics       forecasting.Metrics `msgpack:"metrics"`
	TrainedAt     time.Time           `msgpack:"trained_at"`
	RunID         string              `msgpack:"run_id"`
}

// PersistenceError wraps a failed artifact read or write.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("registry %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Key returns the blob key for (entityID, variant). Entity ids are path-escaped, dots
// included, so no id can climb out of its directory.
func Key(entityID, variant string) string {
	return path.Join(keyRoot, escapeSegment(entityID), escapeSegment(variant)+keyExtension)
}

func escapeSegment(s string) string {
	return strings.ReplaceAll(url.PathEscape(s), ".", "%2E")
}

func entityPrefix(entityID string) string {
	return path.Join(keyRoot, escapeSegment(entityID)) + "/"
}

// Registry stores at most one artifact per (entity, variant); Save supersedes.
type Registry struct {
	store BlobStore
	log   zerolog.Logger
}

// New creates a registry over store.
func New(store BlobStore, log zerolog.Logger) *Registry {
	return &Registry{
		store: store,
		log:   log.With().Str("component", "model_registry").Logger(),
	}
}

// Save writes the artifact, replacing any previous one for the same key.
func (r *Registry) Save(ctx context.Context, a *Artifact) error {
	if a == nil || a.EntityID == "" || a.Variant == "" {
		return &PersistenceError{Op: "save", Err: errors.New("artifact needs an entity id and variant")}
	}
	key := Key(a.EntityID, a.Variant)

	envelope := *a
	envelope.FormatVersion = FormatVersion

	data, err := msgpack.Marshal(&envelope)
	if err != nil {
		return &PersistenceError{Op: "save", Key: key, Err: fmt.Errorf("failed to encode artifact: %w", err)}
	}

	if err := r.store.Put(ctx, key, data); err != nil {
		return &PersistenceError{Op: "save", Key: key, Err: err}
	}

	r.log.Debug().
		Str("entity_id", a.EntityID).
		Str("variant", a.Variant).
		Int("bytes", len(data)).
		Msg("Saved model artifact")
	return nil
}

// Load returns the artifact for (entityID, variant), or nil, nil if none exists.
func (r *Registry) Load(ctx context.Context, entityID, variant string) (*Artifact, error) {
	key := Key(entityID, variant)

	data, err := r.store.Get(ctx, key)
	if errors.Is(err, ErrBlobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load", Key: key, Err: err}
	}

	var a Artifact
	if err := msgpack.Unmarshal(data, &a); err != nil {
		return nil, &PersistenceError{Op: "load", Key: key, Err: fmt.Errorf("failed to decode artifact: %w", err)}
	}
	if a.FormatVersion > FormatVersion {
		return nil, &PersistenceError{Op: "load", Key: key, Err: fmt.Errorf("unsupported artifact format %d", a.FormatVersion)}
	}
	return &a, nil
}

// Delete removes the artifact. Deleting a missing artifact is not an error.
func (r *Registry) Delete(ctx context.Context, entityID, variant string) error {
	key := Key(entityID, variant)
	if err := r.store.Delete(ctx, key); err != nil {
		return &PersistenceError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// List returns the variants with a stored artifact for entityID, sorted.
func (r *Registry) List(ctx context.Context, entityID string) ([]string, error) {
	prefix := entityPrefix(entityID)
	keys, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Key: prefix, Err: err}
	}

	variants := make([]string, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimPrefix(k, prefix)
		if strings.Contains(name, "/") || !strings.HasSuffix(name, keyExtension) {
			continue
		}
		v, err := url.PathUnescape(strings.TrimSuffix(name, keyExtension))
		if err != nil {
			continue
		}
		variants = append(variants, v)
	}
	sort.Strings(variants)
	return variants, nil
}
