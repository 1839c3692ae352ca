package classify

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Wire types tolerate the classifier model's common schema drift: numbers
// returned as strings, string lists returned as comma-joined strings, and
// entity lists returned as bare name strings.

type categorizationWire struct {
	Type       string                 `json:"type"`
	Importance flexFloat              `json:"importance"`
	Tags       stringList             `json:"tags"`
	Entities   entityList             `json:"entities"`
	Metadata   map[string]interface{} `json:"metadata"`
}

func (w *categorizationWire) categorization() *Categorization {
	return &Categorization{
		Type:       w.Type,
		Importance: float64(w.Importance),
		Tags:       w.Tags,
		Entities:   w.Entities,
		Metadata:   w.Metadata,
	}
}

type conflictWire struct {
	HasConflict flexBool  `json:"hasConflict"`
	Confidence  flexFloat `json:"confidence"`
	Refines     flexBool  `json:"refines"`
}

func (w *conflictWire) assessment() *ConflictAssessment {
	return &ConflictAssessment{
		HasConflict: bool(w.HasConflict),
		Confidence:  float64(w.Confidence),
		Refines:     bool(w.Refines),
	}
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// flexBool accepts a JSON bool or the strings "true"/"false"/"yes"/"no".
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes":
		*b = true
	default:
		*b = false
	}
	return nil
}

// stringList accepts a JSON array of strings or one comma-joined string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err == nil {
		*l = items
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*l = nil
		return nil
	}

	parts := strings.Split(s, ",")
	items = make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	*l = items
	return nil
}

// entityList accepts entity objects or bare name strings.
type entityList []Entity

func (l *entityList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	entities := make([]Entity, 0, len(raw))
	for _, item := range raw {
		var e Entity
		if err := json.Unmarshal(item, &e); err == nil && e.Name != "" {
			entities = append(entities, e)
			continue
		}
		var name string
		if err := json.Unmarshal(item, &name); err != nil {
			return err
		}
		if name = strings.TrimSpace(name); name != "" {
			entities = append(entities, Entity{Name: name})
		}
	}
	*l = entities
	return nil
}
