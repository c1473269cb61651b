package registry

import (
	"fmt"
	"time"

	"github.com/berfenger/otgw2mqtt/internal/core/schema"
	"github.com/berfenger/otgw2mqtt/pkg/opentherm"
)

// BoundTarget is an input whose minimum or maximum is learned from a
// message field.
type BoundTarget struct {
	Entity schema.Entity
	Field  opentherm.Encoding
	Max    bool
}

// Registry maps Data-IDs to the entities that reference them. It is
// immutable once built.
type Registry struct {
	entities  []schema.Entity
	byID      map[string]int
	byMessage map[opentherm.DataID][]int
	order     map[opentherm.DataID]int
	messages  []opentherm.DataID
	bounds    map[opentherm.DataID][]BoundTarget
	dates     []int
}

// dateParts are the messages assembled into a str_date entity.
var dateParts = []opentherm.DataID{opentherm.DayTime, opentherm.Date, opentherm.Year}

func Build(entities []schema.Entity) (*Registry, error) {
	r := &Registry{
		byID:      map[string]int{},
		byMessage: map[opentherm.DataID][]int{},
		order:     map[opentherm.DataID]int{},
		bounds:    map[opentherm.DataID][]BoundTarget{},
	}

	for _, e := range entities {
		if err := validate(e); err != nil {
			return nil, err
		}
		if _, dup := r.byID[e.ID()]; dup {
			return nil, &schema.SchemaError{Entity: e.ID(), Reason: "duplicate entity"}
		}
		i := len(r.entities)
		r.entities = append(r.entities, e)
		r.byID[e.ID()] = i
		r.byMessage[e.Message] = append(r.byMessage[e.Message], i)
		r.addMessage(e.Message)

		if e.Field.Kind == opentherm.KindDate {
			r.dates = append(r.dates, i)
			for _, part := range dateParts {
				r.addMessage(part)
			}
		}
		if e.AutoMin != nil {
			r.bounds[e.AutoMin.Message] = append(r.bounds[e.AutoMin.Message], BoundTarget{Entity: e, Field: e.AutoMin.Field})
			r.addMessage(e.AutoMin.Message)
		}
		if e.AutoMax != nil {
			r.bounds[e.AutoMax.Message] = append(r.bounds[e.AutoMax.Message], BoundTarget{Entity: e, Field: e.AutoMax.Field, Max: true})
			r.addMessage(e.AutoMax.Message)
		}
	}
	return r, nil
}

func validate(e schema.Entity) error {
	switch e.Kind {
	case schema.KindSensor, schema.KindBinarySensor, schema.KindTextSensor, schema.KindSwitch, schema.KindInput:
	default:
		return &schema.SchemaError{Entity: e.ID(), Reason: fmt.Sprintf("unknown kind %q", e.Kind)}
	}
	if e.Field.Kind == opentherm.KindFlag8 && e.Field.Bit > 7 {
		return &schema.SchemaError{Entity: e.ID(), Reason: fmt.Sprintf("bit index %d out of [0,7]", e.Field.Bit)}
	}
	if e.Writable() && e.Field.Kind == opentherm.KindDate {
		return &schema.SchemaError{Entity: e.ID(), Reason: "str_date fields are read only"}
	}
	if e.Range != nil && e.Range.Min > e.Range.Max {
		return &schema.SchemaError{Entity: e.ID(), Reason: fmt.Sprintf("range min %g > max %g", e.Range.Min, e.Range.Max)}
	}
	for _, b := range []*schema.BoundSource{e.AutoMin, e.AutoMax} {
		if b == nil {
			continue
		}
		if e.Range == nil {
			return &schema.SchemaError{Entity: e.ID(), Reason: "auto bound without a range"}
		}
		if !b.Field.Numeric() {
			return &schema.SchemaError{Entity: e.ID(), Reason: fmt.Sprintf("bound field %s is not numeric", b.Field)}
		}
	}
	return nil
}

func (r *Registry) addMessage(id opentherm.DataID) {
	if _, ok := r.order[id]; ok {
		return
	}
	r.order[id] = len(r.messages)
	r.messages = append(r.messages, id)
}

func (r *Registry) Entities() []schema.Entity {
	return append([]schema.Entity(nil), r.entities...)
}

func (r *Registry) Entity(id string) (schema.Entity, bool) {
	i, ok := r.byID[id]
	if !ok {
		return schema.Entity{}, false
	}
	return r.entities[i], true
}

// ForMessage returns the entities decoding id, in schema order.
func (r *Registry) ForMessage(id opentherm.DataID) []schema.Entity {
	idx := r.byMessage[id]
	out := make([]schema.Entity, 0, len(idx))
	for _, i := range idx {
		out = append(out, r.entities[i])
	}
	return out
}

// Known reports whether frames for id carry anything the registry uses.
func (r *Registry) Known(id opentherm.DataID) bool {
	_, ok := r.order[id]
	return ok
}

// Rank orders Data-IDs by first appearance in the schema.
func (r *Registry) Rank(id opentherm.DataID) int {
	if i, ok := r.order[id]; ok {
		return i
	}
	return len(r.messages)
}

// Messages returns every referenced Data-ID in schema order.
func (r *Registry) Messages() []opentherm.DataID {
	return append([]opentherm.DataID(nil), r.messages...)
}

// InitMessages returns the distinct Data-IDs read during initialization:
// messages of init entities in schema order, followed by the auto bound
// sources that are not already part of the list.
func (r *Registry) InitMessages() []opentherm.DataID {
	var out []opentherm.DataID
	seen := map[opentherm.DataID]bool{}
	add := func(id opentherm.DataID) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, e := range r.entities {
		if !e.Init {
			continue
		}
		add(e.Message)
		if e.Field.Kind == opentherm.KindDate {
			for _, part := range dateParts {
				add(part)
			}
		}
	}
	for _, id := range r.messages {
		if len(r.bounds[id]) > 0 {
			add(id)
		}
	}
	return out
}

// PollIntervals returns the smallest poll interval per polled Data-ID.
func (r *Registry) PollIntervals() map[opentherm.DataID]time.Duration {
	out := map[opentherm.DataID]time.Duration{}
	for _, e := range r.entities {
		if !e.Polled() {
			continue
		}
		if cur, ok := out[e.Message]; !ok || e.PollInterval < cur {
			out[e.Message] = e.PollInterval
		}
	}
	return out
}

func (r *Registry) BoundTargets(id opentherm.DataID) []BoundTarget {
	return r.bounds[id]
}

// BoundSources returns the messages the auto bounds of an entity are
// learned from.
func (r *Registry) BoundSources(e schema.Entity) []opentherm.DataID {
	var out []opentherm.DataID
	if e.AutoMin != nil {
		out = append(out, e.AutoMin.Message)
	}
	if e.AutoMax != nil && (e.AutoMin == nil || e.AutoMax.Message != e.AutoMin.Message) {
		out = append(out, e.AutoMax.Message)
	}
	return out
}

func (r *Registry) DateEntities() []schema.Entity {
	out := make([]schema.Entity, 0, len(r.dates))
	for _, i := range r.dates {
		out = append(out, r.entities[i])
	}
	return out
}

func IsDatePart(id opentherm.DataID) bool {
	for _, p := range dateParts {
		if p == id {
			return true
		}
	}
	return false
}
