// Package classify provides clients for the categorization and
// conflict-detection provider. The provider inspects raw memory text and
// returns a classification (type, importance, tags, entities) or judges
// whether two memories contradict each other. Outputs are treated as
// opaque, fallible inputs by the engine.
package classify

import "context"

// Entity is a named thing the provider recognized in the text.
type Entity struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Categorization is the provider's assessment of a single memory text.
type Categorization struct {
	// Type is the content classification, e.g. "fact" or "preference".
	Type string `json:"type"`

	// Importance is the provider's raw importance estimate. Callers clamp
	// it to [0,1]; out-of-range values are not an error here.
	Importance float64 `json:"importance"`

	Tags     []string `json:"tags,omitempty"`
	Entities []Entity `json:"entities,omitempty"`

	// Metadata is an opaque structured payload. It may be arbitrarily
	// nested; callers must not walk it recursively without a depth bound.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ConflictAssessment is the provider's judgement of a new memory against
// one existing memory.
type ConflictAssessment struct {
	// HasConflict reports a semantic contradiction between the two texts.
	HasConflict bool `json:"hasConflict"`

	// Confidence is the provider's confidence in the assessment, in [0,1].
	Confidence float64 `json:"confidence"`

	// Refines reports that the new text is a superset or refinement of
	// the existing one (drives "extends" edges instead of "related_to").
	Refines bool `json:"refines,omitempty"`
}

// Classifier defines the interface for the categorization provider.
type Classifier interface {
	// Categorize classifies a memory text.
	Categorize(ctx context.Context, text string) (*Categorization, error)

	// DetectConflict judges whether newText contradicts existingText.
	DetectConflict(ctx context.Context, existingText, newText string) (*ConflictAssessment, error)
}
