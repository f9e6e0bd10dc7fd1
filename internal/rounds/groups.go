package rounds

import (
	"regexp"

	"github.com/ethereum/esp-website-sub001/internal/formconfig"
	"github.com/ethereum/esp-website-sub001/internal/schema"
)

// field pairs a schema field with its default rendering.
type field struct {
	spec schema.FieldSpec
	form formconfig.FieldConfig
}

// group is a reusable, ordered set of fields shared between rounds.
type group []field

func (g group) specs() []schema.FieldSpec {
	out := make([]schema.FieldSpec, len(g))
	for i, f := range g {
		out[i] = f.spec
	}
	return out
}

// with returns a copy of g with fn applied to the named field's spec. The
// rendered required flag follows the spec.
func (g group) with(name string, fn func(*schema.FieldSpec)) group {
	out := append(group(nil), g...)
	for i := range out {
		if out[i].spec.Name == name {
			fn(&out[i].spec)
			out[i].form.Required = out[i].spec.Required
		}
	}
	return out
}

func (g group) without(names ...string) group {
	drop := map[string]bool{}
	for _, n := range names {
		drop[n] = true
	}
	var out group
	for _, f := range g {
		if !drop[f.spec.Name] {
			out = append(out, f)
		}
	}
	return out
}

func text(name, label string, required bool, maxLen int) field {
	return field{
		spec: schema.FieldSpec{Name: name, Kind: schema.ShortText, Required: required, MaxLen: maxLen},
		form: formconfig.FieldConfig{Label: label, Required: required},
	}
}

func longText(name, label, help string, required bool, minLen, maxLen int) field {
	return field{
		spec: schema.FieldSpec{Name: name, Kind: schema.LongText, Required: required, MinLen: minLen, MaxLen: maxLen},
		form: formconfig.FieldConfig{Label: label, HelpText: help, Required: required, Rows: 5},
	}
}

func email(name, label string) field {
	return field{
		spec: schema.FieldSpec{Name: name, Kind: schema.Email, Required: true, MaxLen: 255},
		form: formconfig.FieldConfig{Label: label, Required: true, Placeholder: "name@example.com"},
	}
}

func link(name, label string, required bool) field {
	return field{
		spec: schema.FieldSpec{Name: name, Kind: schema.URL, Required: required, MaxLen: 255},
		form: formconfig.FieldConfig{Label: label, Required: required, Placeholder: "https://"},
	}
}

func number(name, label string, required bool, min, max float64) field {
	return field{
		spec: schema.FieldSpec{Name: name, Kind: schema.Number, Required: required, Min: schema.Bound(min), Max: schema.Bound(max)},
		form: formconfig.FieldConfig{Label: label, Required: required},
	}
}

func choice(name, label string, required bool, options ...string) field {
	return field{
		spec: schema.FieldSpec{Name: name, Kind: schema.Choice, Required: required, Options: options},
		form: formconfig.FieldConfig{Label: label, Required: required},
	}
}

func multiChoice(name, label string, required bool, options ...string) field {
	return field{
		spec: schema.FieldSpec{Name: name, Kind: schema.MultiChoice, Required: required, Options: options, MinLen: 1},
		form: formconfig.FieldConfig{Label: label, Required: required},
	}
}

func boolean(name, label string) field {
	return field{
		spec: schema.FieldSpec{Name: name, Kind: schema.Boolean},
		form: formconfig.FieldConfig{Label: label},
	}
}

func attachment(name, label string, required bool, maxSize int64, accept ...string) field {
	return field{
		spec: schema.FieldSpec{Name: name, Kind: schema.File, Required: required, MaxSize: maxSize, Accept: accept},
		form: formconfig.FieldConfig{Label: label, Required: required},
	}
}

var noMarkdownLinks = schema.Rejects(regexp.MustCompile(`\[[^\]]*\]\([^)]*\)`), "links are not allowed here")

var contactGroup = group{
	text("firstName", "First name", true, 40),
	text("lastName", "Last name", true, 80),
	email("email", "Email"),
	text("company", "Organization", false, 255),
	text("country", "Country", true, 80),
	text("timezone", "Time zone", false, 80),
}

var projectGroup = group{
	text("projectName", "Project name", true, 255),
	longText("projectDescription", "Project description",
		"What are you building and who is it for?", true, 30, 2000).withChecks(noMarkdownLinks),
	link("projectRepo", "Project repository", false),
	link("website", "Website", false),
	longText("problemBeingSolved", "Problem being solved", "", true, 0, 2000),
	number("requestedAmount", "Requested amount (USD)", true, 0, 1_000_000),
}

var fundingGroup = group{
	boolean("receivedOtherFunding", "Have you received funding from other sources?"),
	longText("otherFundingDetails", "Other funding details", "Who funded you, and how much?", false, 0, 1000),
}

var outreachGroup = group{
	text("referralSource", "How did you hear about us?", false, 255),
	boolean("newsletterOptIn", "Subscribe to the newsletter"),
	field{
		spec: schema.FieldSpec{Name: "termsAccepted", Kind: schema.Boolean, Required: true,
			Checks: []schema.Check{schema.MustBeTrue("terms must be accepted")}},
		form: formconfig.FieldConfig{Label: "I accept the terms and conditions", Required: true},
	},
}

func (f field) withChecks(checks ...schema.Check) field {
	f.spec.Checks = append(append([]schema.Check(nil), f.spec.Checks...), checks...)
	return f
}

// otherFundingRule requires details whenever other funding was declared.
var otherFundingRule = schema.RequiredWhen("otherFundingDetails", "required when other funding is received",
	func(r schema.Record) bool { return r.Bool("receivedOtherFunding") }, "receivedOtherFunding")
