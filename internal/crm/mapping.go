package crm

import (
	"strings"

	"github.com/ethereum/esp-website-sub001/internal/schema"
)

// FieldMap copies one validated field to one CRM attribute. Fallback is used
// when the field is absent; nil means omit the attribute.
type FieldMap struct {
	Field     string
	Attribute string
	Fallback  any
}

// Mapping is a round's static field-to-attribute table.
type Mapping struct {
	Object string
	Static Attributes
	Fields []FieldMap
}

// Attributes builds the record attributes for rec. Multi-choice values are
// joined with ";" as multi-select picklists expect; file values are never
// mapped.
func (m Mapping) Attributes(rec schema.Record) Attributes {
	out := make(Attributes, len(m.Static)+len(m.Fields))
	for k, v := range m.Static {
		out[k] = v
	}
	for _, fm := range m.Fields {
		v, ok := rec[fm.Field]
		if !ok {
			if fm.Fallback != nil {
				out[fm.Attribute] = fm.Fallback
			}
			continue
		}
		switch tv := v.(type) {
		case []string:
			out[fm.Attribute] = strings.Join(tv, ";")
		case schema.FileRef:
		default:
			out[fm.Attribute] = tv
		}
	}
	return out
}

// FieldNames returns every schema field the mapping reads.
func (m Mapping) FieldNames() []string {
	names := make([]string, len(m.Fields))
	for i, fm := range m.Fields {
		names[i] = fm.Field
	}
	return names
}
