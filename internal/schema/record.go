package schema

// Record is a fully validated submission. Values are coerced to string,
// bool, float64, []string or FileRef according to the field kind; absent
// optional fields have no key.
type Record map[string]any

func (r Record) Has(name string) bool {
	_, ok := r[name]
	return ok
}

func (r Record) String(name string) string {
	s, _ := r[name].(string)
	return s
}

func (r Record) Bool(name string) bool {
	b, _ := r[name].(bool)
	return b
}

func (r Record) Number(name string) (float64, bool) {
	n, ok := r[name].(float64)
	return n, ok
}

func (r Record) Strings(name string) []string {
	ss, _ := r[name].([]string)
	return ss
}

func (r Record) File(name string) FileRef {
	f, _ := r[name].(FileRef)
	return f
}

// Selected reports whether the multi-choice field name includes option.
func (r Record) Selected(name, option string) bool {
	return contains(r.Strings(name), option)
}
