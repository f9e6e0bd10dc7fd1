// Package formconfig composes the per-round form contract served to the
// presentation layer: reusable default field configurations merged with
// per-form overrides.
package formconfig

import (
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ethereum/esp-website-sub001/internal/schema"
)

// FieldConfig is how one field is rendered.
type FieldConfig struct {
	Label       string `json:"label" yaml:"label"`
	HelpText    string `json:"helpText,omitempty" yaml:"helpText"`
	Placeholder string `json:"placeholder,omitempty" yaml:"placeholder"`
	Required    bool   `json:"required" yaml:"required"`
	Rows        int    `json:"rows,omitempty" yaml:"rows"`
	Order       int    `json:"order" yaml:"order"`
}

// Override replaces only the keys it sets. Remove drops the field from the
// composed form, which is what a literal `false` decodes to.
type Override struct {
	Remove      bool
	Label       *string
	HelpText    *string
	Placeholder *string
	Required    *bool
	Rows        *int
	Order       *int
}

// Removed is the `false` override.
var Removed = Override{Remove: true}

// Compose merges overrides onto defaults. Neither input is modified and the
// result does not share state with them.
func Compose(defaults map[string]FieldConfig, overrides map[string]Override) map[string]FieldConfig {
	out := make(map[string]FieldConfig, len(defaults))
	for name, def := range defaults {
		o, ok := overrides[name]
		if !ok {
			out[name] = def
			continue
		}
		if o.Remove {
			continue
		}
		out[name] = o.apply(def)
	}
	return out
}

func (o Override) apply(c FieldConfig) FieldConfig {
	if o.Label != nil {
		c.Label = *o.Label
	}
	if o.HelpText != nil {
		c.HelpText = *o.HelpText
	}
	if o.Placeholder != nil {
		c.Placeholder = *o.Placeholder
	}
	if o.Required != nil {
		c.Required = *o.Required
	}
	if o.Rows != nil {
		c.Rows = *o.Rows
	}
	if o.Order != nil {
		c.Order = *o.Order
	}
	return c
}

// Merge layers b over a, key by key. A later `false` wins over an earlier
// partial override and vice versa.
func Merge(a, b map[string]Override) map[string]Override {
	out := make(map[string]Override, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		prev, ok := out[k]
		if !ok || v.Remove || prev.Remove {
			out[k] = v
			continue
		}
		out[k] = prev.layer(v)
	}
	return out
}

func (o Override) layer(next Override) Override {
	if next.Label != nil {
		o.Label = next.Label
	}
	if next.HelpText != nil {
		o.HelpText = next.HelpText
	}
	if next.Placeholder != nil {
		o.Placeholder = next.Placeholder
	}
	if next.Required != nil {
		o.Required = next.Required
	}
	if next.Rows != nil {
		o.Rows = next.Rows
	}
	if next.Order != nil {
		o.Order = next.Order
	}
	return o
}

// Field is a named FieldConfig for ordered rendering.
type Field struct {
	Name string `json:"name"`
	FieldConfig
}

// Ordered returns the composed fields sorted by Order, then name.
func Ordered(m map[string]FieldConfig) []Field {
	out := make([]Field, 0, len(m))
	for name, c := range m {
		out = append(out, Field{Name: name, FieldConfig: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Verify checks that the composed form and the round schema agree: every
// rendered field exists in the schema, every field removed by an override is
// absent from the schema or optional in all variants, and a required override
// matches the schema's required flag.
func Verify(composed map[string]FieldConfig, overrides map[string]Override, s *schema.Round) error {
	var errs []error
	for _, f := range Ordered(composed) {
		if _, ok := s.Lookup(f.Name); !ok {
			errs = append(errs, fmt.Errorf("field %q is rendered but not in the schema", f.Name))
		}
	}
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		o := overrides[name]
		switch {
		case o.Remove && s.RequiredAnywhere(name):
			errs = append(errs, fmt.Errorf("field %q is removed from the form but required by the schema", name))
		case !o.Remove && o.Required != nil && *o.Required != s.RequiredAnywhere(name):
			errs = append(errs, fmt.Errorf("field %q is overridden as required=%t but the schema says %t",
				name, *o.Required, s.RequiredAnywhere(name)))
		}
	}
	return errors.Join(errs...)
}

// UnmarshalYAML accepts either `false` or a mapping of the keys to replace.
func (o *Override) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.ShortTag() == "!!bool" {
		var keep bool
		if err := node.Decode(&keep); err != nil {
			return err
		}
		if keep {
			return errors.New("formconfig: override must be false or a mapping")
		}
		*o = Removed
		return nil
	}
	var raw struct {
		Label       *string `yaml:"label"`
		HelpText    *string `yaml:"helpText"`
		Placeholder *string `yaml:"placeholder"`
		Required    *bool   `yaml:"required"`
		Rows        *int    `yaml:"rows"`
		Order       *int    `yaml:"order"`
	}
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("formconfig: decode override: %w", err)
	}
	*o = Override{
		Label:       raw.Label,
		HelpText:    raw.HelpText,
		Placeholder: raw.Placeholder,
		Required:    raw.Required,
		Rows:        raw.Rows,
		Order:       raw.Order,
	}
	return nil
}

// Str, Bool and Int build override pointers inline.
func Str(s string) *string { return &s }
func Bool(b bool) *bool    { return &b }
func Int(n int) *int       { return &n }
