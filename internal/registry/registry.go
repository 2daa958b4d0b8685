// Package registry holds the fixed table of summarization models the
// service knows about, together with the generation settings used for each.
package registry

import (
	"fmt"

	"github.com/localrivet/summaryservice/internal/engine"
)

// DefaultModelID is the model used when none is requested or the requested
// one is unknown.
const DefaultModelID = "facebook/bart-large-cnn"

// Fallback reasons reported in a Resolution.
const (
	ReasonUnknown    = "unknown"
	ReasonLoadFailed = "load_failed"
)

// Descriptor describes one model. Descriptors are values; the registry hands
// out copies so callers cannot alter the table.
type Descriptor struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	InputPrefix string                  `json:"input_prefix,omitempty"`
	Generation  engine.GenerationParams `json:"generation"`
}

// Resolution records how a requested identifier was mapped onto a
// registered one.
type Resolution struct {
	Requested    string `json:"requested"`
	Identifier   string `json:"identifier"`
	UsedFallback bool   `json:"used_fallback"`
	Reason       string `json:"reason,omitempty"`
}

// Registry is an immutable identifier to descriptor table.
type Registry struct {
	models    map[string]Descriptor
	order     []string
	defaultID string
}

// Builtin returns the registry of models shipped with the service.
func Builtin() *Registry {
	r, err := New(DefaultModelID, BuiltinDescriptors()...)
	if err != nil {
		panic(fmt.Sprintf("registry: invalid builtin table: %v", err))
	}
	return r
}

// BuiltinDescriptors returns a fresh copy of the builtin model table, default
// first.
func BuiltinDescriptors() []Descriptor {
	return []Descriptor{
		{
			ID:          "facebook/bart-large-cnn",
			Name:        "BART-large-CNN",
			Description: "Optimized for news articles and general summarization",
			Generation:  engine.GenerationParams{MaxLength: 142, MinLength: 30, NumBeams: 4, NoRepeatNgramSize: 3, EarlyStopping: true},
		},
		{
			ID:          "google/pegasus-xsum",
			Name:        "PEGASUS-XSUM",
			Description: "Excellent for extreme summarization with high compression",
			Generation:  engine.GenerationParams{MaxLength: 128, MinLength: 20, NumBeams: 8, NoRepeatNgramSize: 3, EarlyStopping: true},
		},
		{
			ID:          "facebook/bart-large-xsum",
			Name:        "BART-large-XSUM",
			Description: "Fine-tuned for concise, single-sentence summaries",
			Generation:  engine.GenerationParams{MaxLength: 62, MinLength: 15, NumBeams: 6, NoRepeatNgramSize: 3, EarlyStopping: true},
		},
		{
			ID:          "t5-base",
			Name:        "T5-base",
			Description: "General text-to-text model prompted with a summarize prefix",
			InputPrefix: "summarize: ",
			Generation:  engine.GenerationParams{MaxLength: 50, MinLength: 30, NumBeams: 4, NoRepeatNgramSize: 2, EarlyStopping: false},
		},
	}
}

// New builds a registry from descriptors. The default identifier must be
// among them.
func New(defaultID string, descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{
		models:    make(map[string]Descriptor, len(descriptors)),
		order:     make([]string, 0, len(descriptors)),
		defaultID: defaultID,
	}

	for _, d := range descriptors {
		if d.ID == "" {
			return nil, fmt.Errorf("registry: descriptor with empty id")
		}
		if _, exists := r.models[d.ID]; exists {
			return nil, fmt.Errorf("registry: duplicate model id %q", d.ID)
		}
		if err := d.Generation.Validate(); err != nil {
			return nil, fmt.Errorf("registry: model %q: %w", d.ID, err)
		}
		if d.Name == "" {
			d.Name = d.ID
		}
		r.models[d.ID] = d
		r.order = append(r.order, d.ID)
	}

	if _, ok := r.models[defaultID]; !ok {
		return nil, fmt.Errorf("registry: default model %q is not registered", defaultID)
	}

	return r, nil
}

// DefaultID returns the identifier of the default model.
func (r *Registry) DefaultID() string {
	return r.defaultID
}

// Lookup returns the descriptor for identifier and whether it is registered.
func (r *Registry) Lookup(identifier string) (Descriptor, bool) {
	d, ok := r.models[identifier]
	return d, ok
}

// Describe returns the descriptor for identifier, or the default descriptor
// when identifier is not registered. It never fails.
func (r *Registry) Describe(identifier string) Descriptor {
	if d, ok := r.models[identifier]; ok {
		return d
	}
	return r.models[r.defaultID]
}

// Resolve maps identifier onto a registered model. An empty identifier
// selects the default without counting as a fallback.
func (r *Registry) Resolve(identifier string) Resolution {
	if identifier == "" {
		return Resolution{Requested: identifier, Identifier: r.defaultID}
	}
	if _, ok := r.models[identifier]; ok {
		return Resolution{Requested: identifier, Identifier: identifier}
	}
	return Resolution{
		Requested:    identifier,
		Identifier:   r.defaultID,
		UsedFallback: true,
		Reason:       ReasonUnknown,
	}
}

// List returns all descriptors in registration order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.models[id])
	}
	return out
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	return len(r.order)
}
