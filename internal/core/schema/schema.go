package schema

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/berfenger/otgw2mqtt/pkg/opentherm"

	"gopkg.in/yaml.v3"
)

//go:embed builtin.yaml
var builtinSchema []byte

type Kind string

const (
	KindSensor       Kind = "sensor"
	KindBinarySensor Kind = "binary_sensor"
	KindTextSensor   Kind = "text_sensor"
	KindSwitch       Kind = "switch"
	KindInput        Kind = "input"
)

// File is the on-disk layout of a schema. Each section is a list so that a
// repeated key can be reported instead of silently collapsed.
type File struct {
	Sensors       []Row `yaml:"sensors"`
	BinarySensors []Row `yaml:"binary_sensors"`
	TextSensors   []Row `yaml:"text_sensors"`
	Switches      []Row `yaml:"switches"`
	Inputs        []Row `yaml:"inputs"`
}

type Row struct {
	Key              string    `yaml:"key"`
	Description      string    `yaml:"description"`
	Message          string    `yaml:"message"`
	MessageData      string    `yaml:"message_data"`
	Init             bool      `yaml:"init"`
	UpdateTime       *int      `yaml:"update_time"`
	Range            []float64 `yaml:"range"`
	AutoMinValue     *BoundRow `yaml:"auto_min_value"`
	AutoMaxValue     *BoundRow `yaml:"auto_max_value"`
	Unit             string    `yaml:"unit_of_measurement"`
	AccuracyDecimals *int      `yaml:"accuracy_decimals"`
	DeviceClass      string    `yaml:"device_class"`
	StateClass       string    `yaml:"state_class"`
	Icon             string    `yaml:"icon"`
	EntityCategory   string    `yaml:"entity_category"`
}

type BoundRow struct {
	Message     string `yaml:"message"`
	MessageData string `yaml:"message_data"`
}

type Range struct {
	Min float64
	Max float64
}

// BoundSource is a message field whose value bounds an input at runtime.
type BoundSource struct {
	Message opentherm.DataID
	Field   opentherm.Encoding
}

// Entity is one parsed schema row.
type Entity struct {
	Key         string
	Kind        Kind
	Description string
	Message     opentherm.DataID
	Field       opentherm.Encoding
	Init        bool
	// PollInterval is zero for values that are never polled.
	PollInterval time.Duration
	Range        *Range
	AutoMin      *BoundSource
	AutoMax      *BoundSource

	Unit             string
	AccuracyDecimals int
	DeviceClass      string
	StateClass       string
	Icon             string
	EntityCategory   string
}

// ID is unique across kinds: "switch.ch2_active" and "binary_sensor.ch2_active"
// are different entities.
func (e Entity) ID() string {
	return string(e.Kind) + "." + e.Key
}

func (e Entity) Writable() bool {
	return e.Kind == KindSwitch || e.Kind == KindInput
}

func (e Entity) Polled() bool {
	return e.PollInterval > 0
}

type SchemaError struct {
	Entity string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Entity == "" {
		return "schema: " + e.Reason
	}
	return fmt.Sprintf("schema: %s: %s", e.Entity, e.Reason)
}

// Builtin returns the entity table compiled into the binary.
func Builtin() ([]Entity, []string, error) {
	return Parse(builtinSchema)
}

func LoadFile(path string) ([]Entity, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return Load(f)
}

func Load(r io.Reader) ([]Entity, []string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML schema. Warnings report non fatal problems such as
// repeated keys, in which case the last definition wins and keeps the
// position of the first one.
func Parse(data []byte) ([]Entity, []string, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, &SchemaError{Reason: err.Error()}
	}
	return FromFile(file)
}

func FromFile(file File) ([]Entity, []string, error) {
	var entities []Entity
	var warnings []string
	index := map[string]int{}

	sections := []struct {
		kind Kind
		rows []Row
	}{
		{KindSensor, file.Sensors},
		{KindBinarySensor, file.BinarySensors},
		{KindTextSensor, file.TextSensors},
		{KindSwitch, file.Switches},
		{KindInput, file.Inputs},
	}
	for _, section := range sections {
		for _, row := range section.rows {
			e, err := row.entity(section.kind)
			if err != nil {
				return nil, nil, err
			}
			if i, dup := index[e.ID()]; dup {
				warnings = append(warnings, fmt.Sprintf("duplicate key %s, using the last definition", e.ID()))
				entities[i] = e
				continue
			}
			index[e.ID()] = len(entities)
			entities = append(entities, e)
		}
	}
	return entities, warnings, nil
}

func (r Row) entity(kind Kind) (Entity, error) {
	id := string(kind) + "." + r.Key
	if r.Key == "" {
		return Entity{}, &SchemaError{Entity: id, Reason: "missing key"}
	}

	msg, ok := opentherm.LookupDataID(r.Message)
	if !ok {
		return Entity{}, &SchemaError{Entity: id, Reason: fmt.Sprintf("unknown message %q", r.Message)}
	}
	field, err := opentherm.ParseEncoding(r.MessageData)
	if err != nil {
		return Entity{}, &SchemaError{Entity: id, Reason: err.Error()}
	}

	e := Entity{
		Key:            r.Key,
		Kind:           kind,
		Description:    r.Description,
		Message:        msg,
		Field:          field,
		Init:           r.Init,
		Unit:           r.Unit,
		DeviceClass:    r.DeviceClass,
		StateClass:     r.StateClass,
		Icon:           r.Icon,
		EntityCategory: r.EntityCategory,
	}
	if r.UpdateTime != nil && *r.UpdateTime > 0 {
		e.PollInterval = time.Duration(*r.UpdateTime) * time.Second
	}
	if r.AccuracyDecimals != nil {
		e.AccuracyDecimals = *r.AccuracyDecimals
	} else if field.Kind == opentherm.KindFixed88 {
		e.AccuracyDecimals = 2
	}

	if r.Range != nil {
		if len(r.Range) != 2 {
			return Entity{}, &SchemaError{Entity: id, Reason: "range must have exactly two values"}
		}
		e.Range = &Range{Min: r.Range[0], Max: r.Range[1]}
	}
	if e.AutoMin, err = r.AutoMinValue.source(id); err != nil {
		return Entity{}, err
	}
	if e.AutoMax, err = r.AutoMaxValue.source(id); err != nil {
		return Entity{}, err
	}
	return e, nil
}

func (b *BoundRow) source(id string) (*BoundSource, error) {
	if b == nil {
		return nil, nil
	}
	msg, ok := opentherm.LookupDataID(b.Message)
	if !ok {
		return nil, &SchemaError{Entity: id, Reason: fmt.Sprintf("unknown bound message %q", b.Message)}
	}
	field, err := opentherm.ParseEncoding(b.MessageData)
	if err != nil {
		return nil, &SchemaError{Entity: id, Reason: err.Error()}
	}
	return &BoundSource{Message: msg, Field: field}, nil
}
