// Package rounds is the registry of grant rounds. Each round pairs a schema,
// a composed form contract, a CRM mapping table and a record type. The
// registry is built once at startup and is read-only afterwards.
package rounds

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ethereum/esp-website-sub001/internal/crm"
	"github.com/ethereum/esp-website-sub001/internal/formconfig"
	"github.com/ethereum/esp-website-sub001/internal/schema"
)

var ErrUnknownRound = errors.New("rounds: unknown round")

// Settings are the deployment-specific parts of a round.
type Settings struct {
	RecordTypeID string                         `yaml:"recordTypeId"`
	Object       string                         `yaml:"object"`
	Disabled     bool                           `yaml:"disabled"`
	Fields       map[string]formconfig.Override `yaml:"fields"`
}

// LoadSettings reads a YAML document keyed by round id. A missing path
// yields no settings.
func LoadSettings(path string) (map[string]Settings, error) {
	if path == "" {
		return map[string]Settings{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rounds: read settings: %w", err)
	}
	var doc struct {
		Rounds map[string]Settings `yaml:"rounds"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("rounds: parse settings: %w", err)
	}
	if doc.Rounds == nil {
		doc.Rounds = map[string]Settings{}
	}
	return doc.Rounds, nil
}

// Round is a built round.
type Round struct {
	ID           string
	Title        string
	Schema       *schema.Round
	Mapping      crm.Mapping
	RecordTypeID string

	form Form
}

// Form returns the composed form contract.
func (r *Round) Form() Form { return r.form }

// FormField is one rendered field with the schema hints the presentation
// layer mirrors client side.
type FormField struct {
	formconfig.Field
	Kind      schema.Kind `json:"kind"`
	MinLength int         `json:"minLength,omitempty"`
	MaxLength int         `json:"maxLength,omitempty"`
	Min       *float64    `json:"min,omitempty"`
	Max       *float64    `json:"max,omitempty"`
	Options   []string    `json:"options,omitempty"`
	Accept    []string    `json:"accept,omitempty"`
	MaxSize   int64       `json:"maxSize,omitempty"`
	Variants  []string    `json:"variants,omitempty"`
}

type Form struct {
	RoundID       string      `json:"roundId"`
	Title         string      `json:"title"`
	Discriminator string      `json:"discriminator,omitempty"`
	Multipart     bool        `json:"multipart"`
	Fields        []FormField `json:"fields"`
}

type Registry struct {
	byID  map[string]*Round
	order []*Round
}

// Build builds every definition not disabled by settings. Settings for a
// round that does not exist are an error, as is any disagreement between a
// round's form, schema and mapping.
func Build(defs []Definition, settings map[string]Settings) (*Registry, error) {
	reg := &Registry{byID: map[string]*Round{}}
	known := map[string]bool{}
	var errs []error
	for _, def := range defs {
		if known[def.ID] {
			errs = append(errs, fmt.Errorf("round %q defined twice", def.ID))
			continue
		}
		known[def.ID] = true
		s := settings[def.ID]
		if s.Disabled {
			continue
		}
		r, err := build(def, s)
		if err != nil {
			errs = append(errs, fmt.Errorf("round %q: %w", def.ID, err))
			continue
		}
		reg.byID[r.ID] = r
		reg.order = append(reg.order, r)
	}
	ids := make([]string, 0, len(settings))
	for id := range settings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !known[id] {
			errs = append(errs, fmt.Errorf("settings for unknown round %q", id))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return reg, nil
}

// Default builds the built-in rounds.
func Default(settings map[string]Settings) (*Registry, error) {
	return Build(Definitions(), settings)
}

func build(def Definition, s Settings) (*Round, error) {
	sd := schema.Definition{
		Fields:        def.Fields.specs(),
		Rules:         def.Rules,
		Discriminator: def.Discriminator,
	}
	if len(def.Variants) > 0 {
		sd.Variants = make(map[string]schema.Variant, len(def.Variants))
		for key, v := range def.Variants {
			sd.Variants[key] = schema.Variant{Fields: v.fields.specs(), Rules: v.rules}
		}
	}
	sch, err := schema.New(sd)
	if err != nil {
		return nil, err
	}

	defaults, variantsOf := defaultForm(def, sch)
	overrides := formconfig.Merge(def.Overrides, s.Fields)
	composed := formconfig.Compose(defaults, overrides)
	if err := formconfig.Verify(composed, overrides, sch); err != nil {
		return nil, err
	}
	for name := range overrides {
		if _, ok := defaults[name]; !ok {
			return nil, fmt.Errorf("override for unknown field %q", name)
		}
	}

	mapping := def.Mapping
	if s.Object != "" {
		mapping.Object = s.Object
	}
	if mapping.Object == "" {
		return nil, errors.New("mapping has no CRM object")
	}
	for _, name := range mapping.FieldNames() {
		if _, ok := sch.Lookup(name); !ok {
			return nil, fmt.Errorf("mapping reads unknown field %q", name)
		}
	}

	r := &Round{
		ID:           def.ID,
		Title:        def.Title,
		Schema:       sch,
		Mapping:      mapping,
		RecordTypeID: s.RecordTypeID,
	}
	r.form = Form{
		RoundID:       def.ID,
		Title:         def.Title,
		Discriminator: def.Discriminator,
		Multipart:     sch.FileField() != "",
	}
	for _, f := range formconfig.Ordered(composed) {
		spec, _ := sch.Lookup(f.Name)
		r.form.Fields = append(r.form.Fields, FormField{
			Field:     f,
			Kind:      spec.Kind,
			MinLength: spec.MinLen,
			MaxLength: spec.MaxLen,
			Min:       spec.Min,
			Max:       spec.Max,
			Options:   spec.Options,
			Accept:    spec.Accept,
			MaxSize:   spec.MaxSize,
			Variants:  variantsOf[f.Name],
		})
	}
	return r, nil
}

// defaultForm lays out common fields first, then each variant's fields in
// discriminator option order. It also reports which variants show a field.
func defaultForm(def Definition, sch *schema.Round) (map[string]formconfig.FieldConfig, map[string][]string) {
	defaults := map[string]formconfig.FieldConfig{}
	variantsOf := map[string][]string{}
	order := 0
	add := func(f field) {
		if _, ok := defaults[f.spec.Name]; ok {
			return
		}
		order += 10
		c := f.form
		c.Order = order
		defaults[f.spec.Name] = c
	}
	for _, f := range def.Fields {
		add(f)
	}
	for _, key := range sch.VariantKeys() {
		for _, f := range def.Variants[key].fields {
			add(f)
			variantsOf[f.spec.Name] = append(variantsOf[f.spec.Name], key)
		}
	}
	return defaults, variantsOf
}

// Get returns the round with id.
func (reg *Registry) Get(id string) (*Round, error) {
	r, ok := reg.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRound, id)
	}
	return r, nil
}

// List returns the enabled rounds in definition order.
func (reg *Registry) List() []*Round {
	return append([]*Round(nil), reg.order...)
}
