package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Rule is a cross-field predicate evaluated after every primitive check has
// passed. Field is where the message is reported; Reads lists the fields the
// predicate looks at. Holds must be pure.
type Rule struct {
	Field   string
	Reads   []string
	Message string
	Holds   func(Record) bool
}

// Variant is the extra fields and rules selected by one discriminator value.
type Variant struct {
	Fields []FieldSpec
	Rules  []Rule
}

// Definition is the declarative input to New.
type Definition struct {
	Fields []FieldSpec
	Rules  []Rule

	// Discriminator names a required Choice field in Fields whose options
	// map one to one onto the keys of Variants.
	Discriminator string
	Variants      map[string]Variant
}

// Round is a built, immutable round schema.
type Round struct {
	fields        []FieldSpec
	rules         []Rule
	discriminator string
	variants      map[string]Variant
	index         map[string]FieldSpec
}

// New checks the structural invariants of def and builds the schema.
func New(def Definition) (*Round, error) {
	r := &Round{
		fields:        def.Fields,
		rules:         def.Rules,
		discriminator: def.Discriminator,
		variants:      def.Variants,
		index:         map[string]FieldSpec{},
	}

	common := map[string]bool{}
	for _, f := range def.Fields {
		if f.Name == "" {
			return nil, errors.New("schema: field with empty name")
		}
		if common[f.Name] {
			return nil, fmt.Errorf("schema: duplicate field %q", f.Name)
		}
		common[f.Name] = true
		r.index[f.Name] = f
	}
	for _, rule := range def.Rules {
		if err := checkRule(rule, common, nil); err != nil {
			return nil, err
		}
	}

	if def.Discriminator == "" {
		if len(def.Variants) > 0 {
			return nil, errors.New("schema: variants declared without a discriminator")
		}
		return r, nil
	}

	disc, ok := r.index[def.Discriminator]
	if !ok {
		return nil, fmt.Errorf("schema: discriminator %q is not a field", def.Discriminator)
	}
	if disc.Kind != Choice || !disc.Required {
		return nil, fmt.Errorf("schema: discriminator %q must be a required choice field", def.Discriminator)
	}
	if err := checkPartition(disc.Options, def.Variants); err != nil {
		return nil, fmt.Errorf("schema: discriminator %q: %w", def.Discriminator, err)
	}

	for _, key := range sortedKeys(def.Variants) {
		v := def.Variants[key]
		own := map[string]bool{}
		for _, f := range v.Fields {
			if common[f.Name] || own[f.Name] {
				return nil, fmt.Errorf("schema: variant %q redeclares field %q", key, f.Name)
			}
			own[f.Name] = true
			// Variants may share a name; the first declaration is the
			// one served to the presentation layer.
			if _, seen := r.index[f.Name]; !seen {
				r.index[f.Name] = f
			}
		}
		for _, rule := range v.Rules {
			if err := checkRule(rule, common, own); err != nil {
				return nil, fmt.Errorf("variant %q: %w", key, err)
			}
		}
	}
	return r, nil
}

// MustNew is New for package-level round tables.
func MustNew(def Definition) *Round {
	r, err := New(def)
	if err != nil {
		panic(err)
	}
	return r
}

func checkRule(rule Rule, common, own map[string]bool) error {
	known := func(name string) bool { return common[name] || own[name] }
	if rule.Holds == nil {
		return fmt.Errorf("schema: rule on %q has no predicate", rule.Field)
	}
	if !known(rule.Field) {
		return fmt.Errorf("schema: rule attaches to unknown field %q", rule.Field)
	}
	for _, name := range rule.Reads {
		if !known(name) {
			return fmt.Errorf("schema: rule on %q reads unknown field %q", rule.Field, name)
		}
	}
	return nil
}

func checkPartition(options []string, variants map[string]Variant) error {
	seen := map[string]bool{}
	for _, o := range options {
		if seen[o] {
			return fmt.Errorf("option %q listed twice", o)
		}
		seen[o] = true
		if _, ok := variants[o]; !ok {
			return fmt.Errorf("option %q has no variant", o)
		}
	}
	var extra []string
	for key := range variants {
		if !seen[key] {
			extra = append(extra, key)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return fmt.Errorf("variants %s are not options", strings.Join(extra, ", "))
	}
	return nil
}

func sortedKeys(m map[string]Variant) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks raw against the schema. It returns either the validated
// record or a *ValidationError, never both.
func (s *Round) Validate(raw map[string]any) (Record, error) {
	errs := newCollector()
	rec := Record{}

	checkAll := func(fields []FieldSpec) {
		for _, f := range fields {
			v, msg := f.check(raw[f.Name])
			if msg != "" {
				errs.add(f.Name, msg)
				continue
			}
			if v != nil {
				rec[f.Name] = v
			}
		}
	}

	checkAll(s.fields)

	var active *Variant
	if s.discriminator != "" && !errs.has(s.discriminator) {
		v, ok := s.variants[rec.String(s.discriminator)]
		if !ok {
			errs.add(s.discriminator, MsgUnknownValue)
		} else {
			active = &v
			checkAll(v.Fields)
		}
	}

	if err := errs.err(); err != nil {
		return nil, err
	}

	rules := s.rules
	if active != nil {
		rules = append(append([]Rule(nil), s.rules...), active.Rules...)
	}
	for _, rule := range rules {
		if errs.has(rule.Field) {
			continue
		}
		if !holds(rule, rec) {
			errs.add(rule.Field, rule.Message)
		}
	}
	if err := errs.err(); err != nil {
		return nil, err
	}
	return rec, nil
}

// holds evaluates a rule, treating a panic as a failed rule.
func holds(rule Rule, rec Record) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return rule.Holds(rec)
}

// Fields returns the common fields in declaration order.
func (s *Round) Fields() []FieldSpec {
	return append([]FieldSpec(nil), s.fields...)
}

// Discriminator returns the discriminator field name, if any.
func (s *Round) Discriminator() string {
	return s.discriminator
}

// VariantFields returns the fields a discriminator value adds.
func (s *Round) VariantFields(key string) []FieldSpec {
	return append([]FieldSpec(nil), s.variants[key].Fields...)
}

// VariantKeys returns the discriminator values in option order.
func (s *Round) VariantKeys() []string {
	if s.discriminator == "" {
		return nil
	}
	return append([]string(nil), s.index[s.discriminator].Options...)
}

// Lookup finds a field among the common and variant fields.
func (s *Round) Lookup(name string) (FieldSpec, bool) {
	f, ok := s.index[name]
	return f, ok
}

// RequiredAnywhere reports whether name is required in the common schema or
// in any variant.
func (s *Round) RequiredAnywhere(name string) bool {
	for _, f := range s.fields {
		if f.Name == name {
			return f.Required
		}
	}
	for _, v := range s.variants {
		for _, f := range v.Fields {
			if f.Name == name && f.Required {
				return true
			}
		}
	}
	return false
}

// FileField returns the name of the first File field, or "" when the round
// takes no attachment.
func (s *Round) FileField() string {
	for _, f := range s.fields {
		if f.Kind == File {
			return f.Name
		}
	}
	for _, key := range s.VariantKeys() {
		for _, f := range s.variants[key].Fields {
			if f.Kind == File {
				return f.Name
			}
		}
	}
	return ""
}
