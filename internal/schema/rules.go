package schema

// RequiredWhen makes field required whenever when holds.
func RequiredWhen(field, message string, when func(Record) bool, reads ...string) Rule {
	return Rule{
		Field:   field,
		Reads:   append([]string{field}, reads...),
		Message: message,
		Holds: func(r Record) bool {
			return !when(r) || r.Has(field)
		},
	}
}

// RequiredWhenSelected makes field required when the multi-choice listField
// includes option.
func RequiredWhenSelected(field, listField, option string) Rule {
	return RequiredWhen(field, "required when "+option+" selected", func(r Record) bool {
		return r.Selected(listField, option)
	}, listField)
}

// RequiredWhenEquals makes field required when choice field equals value.
func RequiredWhenEquals(field, choiceField, value string) Rule {
	return RequiredWhen(field, "required when "+choiceField+" is "+value, func(r Record) bool {
		return r.String(choiceField) == value
	}, choiceField)
}

// NotAfter requires the number in field to be no greater than the number in
// limitField when both are present.
func NotAfter(field, limitField, message string) Rule {
	return Rule{
		Field:   field,
		Reads:   []string{field, limitField},
		Message: message,
		Holds: func(r Record) bool {
			a, okA := r.Number(field)
			b, okB := r.Number(limitField)
			return !okA || !okB || a <= b
		},
	}
}
