// Package eventtype provides the event type registry: the catalog of event type
// definitions and their follow-up communication templates. The catalog is authored
// in CUE (catalog.cue), decoded once at startup and never mutated afterwards.
package eventtype

import (
	_ "embed"
	"errors"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/matthewbaird/lifecycle/internal/types"
)

//go:embed catalog.cue
var catalogSource []byte

var (
	ErrDuplicateType     = errors.New("duplicate event type id")
	ErrDuplicateTemplate = errors.New("duplicate communication template id")
	ErrUnknownType       = errors.New("unknown event type")
)

// Registry is a read-only catalog of event types keyed by id.
type Registry struct {
	defs       []types.EventTypeDefinition
	byID       map[string]int
	byCategory map[string][]int
	templates  map[string][]types.CommunicationTemplate
}

// catalogDoc is the decoded shape of a catalog CUE document.
type catalogDoc struct {
	EventTypes []types.EventTypeDefinition   `json:"event_types"`
	Templates  []types.CommunicationTemplate `json:"templates"`
}

// Load decodes the embedded catalog.
func Load() (*Registry, error) {
	return LoadBytes("catalog.cue", catalogSource)
}

// LoadBytes compiles a CUE catalog document and builds a Registry from it.
func LoadBytes(filename string, src []byte) (*Registry, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compiling %s: %w", filename, err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validating %s: %w", filename, err)
	}

	var doc catalogDoc
	if err := v.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filename, err)
	}
	return New(doc.EventTypes, doc.Templates)
}

// New builds a Registry from Go values. Type and template ids must be unique and every
// template must reference a known type.
func New(defs []types.EventTypeDefinition, templates []types.CommunicationTemplate) (*Registry, error) {
	r := &Registry{
		defs:       make([]types.EventTypeDefinition, 0, len(defs)),
		byID:       make(map[string]int, len(defs)),
		byCategory: make(map[string][]int),
		templates:  make(map[string][]types.CommunicationTemplate),
	}
	for _, d := range defs {
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateType, d.ID)
		}
		idx := len(r.defs)
		r.defs = append(r.defs, cloneDef(d))
		r.byID[d.ID] = idx
		r.byCategory[d.Category] = append(r.byCategory[d.Category], idx)
	}

	seen := make(map[string]bool, len(templates))
	for _, t := range templates {
		if seen[t.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTemplate, t.ID)
		}
		seen[t.ID] = true
		if _, ok := r.byID[t.EventType]; !ok {
			return nil, fmt.Errorf("template %s: %w: %s", t.ID, ErrUnknownType, t.EventType)
		}
		r.templates[t.EventType] = append(r.templates[t.EventType], t)
	}
	return r, nil
}

// EventTypes returns every definition in catalog order.
func (r *Registry) EventTypes() []types.EventTypeDefinition {
	out := make([]types.EventTypeDefinition, len(r.defs))
	for i, d := range r.defs {
		out[i] = cloneDef(d)
	}
	return out
}

// EventType looks up a definition by id.
func (r *Registry) EventType(id string) (types.EventTypeDefinition, bool) {
	idx, ok := r.byID[id]
	if !ok {
		return types.EventTypeDefinition{}, false
	}
	return cloneDef(r.defs[idx]), true
}

// EventTypesByCategory returns the definitions of one category in catalog order.
func (r *Registry) EventTypesByCategory(category string) []types.EventTypeDefinition {
	idxs := r.byCategory[category]
	out := make([]types.EventTypeDefinition, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, cloneDef(r.defs[i]))
	}
	return out
}

// Templates returns the communication templates registered for a type.
func (r *Registry) Templates(typeID string) []types.CommunicationTemplate {
	return append([]types.CommunicationTemplate(nil), r.templates[typeID]...)
}

func cloneDef(d types.EventTypeDefinition) types.EventTypeDefinition {
	c := d
	c.DefaultTasks = make([]types.TaskTemplate, len(d.DefaultTasks))
	for i, t := range d.DefaultTasks {
		t.Dependencies = append([]string(nil), t.Dependencies...)
		c.DefaultTasks[i] = t
	}
	c.FallbackRules = append([]types.FallbackRule(nil), d.FallbackRules...)
	c.EscalationRules = append([]types.EscalationRule(nil), d.EscalationRules...)
	return c
}
