package rounds

import (
	"github.com/ethereum/esp-website-sub001/internal/crm"
	"github.com/ethereum/esp-website-sub001/internal/formconfig"
	"github.com/ethereum/esp-website-sub001/internal/schema"
)

// MaxAttachmentSize is the largest attachment any round's schema accepts.
// Ingestion limits are configured separately and normally match it.
const MaxAttachmentSize = 4 << 20

// variant is one discriminated branch of a round.
type variant struct {
	fields group
	rules  []schema.Rule
}

// Definition declares one round: its fields, rules, default rendering,
// overrides and CRM mapping.
type Definition struct {
	ID    string
	Title string

	Fields        group
	Rules         []schema.Rule
	Discriminator string
	Variants      map[string]variant

	Overrides map[string]formconfig.Override
	Mapping   crm.Mapping
}

var contactMapping = []crm.FieldMap{
	{Field: "firstName", Attribute: "FirstName"},
	{Field: "lastName", Attribute: "LastName"},
	{Field: "email", Attribute: "Email"},
	{Field: "company", Attribute: "Company", Fallback: "N/A"},
	{Field: "country", Attribute: "npsp__CompanyCountry__c"},
	{Field: "timezone", Attribute: "Time_Zone__c"},
}

var projectMapping = []crm.FieldMap{
	{Field: "projectName", Attribute: "Project_Name__c"},
	{Field: "projectDescription", Attribute: "Project_Description__c"},
	{Field: "projectRepo", Attribute: "Project_Repo__c"},
	{Field: "website", Attribute: "Website"},
	{Field: "problemBeingSolved", Attribute: "Problem_Being_Solved__c"},
	{Field: "requestedAmount", Attribute: "Requested_Amount__c"},
}

var fundingMapping = []crm.FieldMap{
	{Field: "receivedOtherFunding", Attribute: "Other_Funding__c", Fallback: false},
	{Field: "otherFundingDetails", Attribute: "Other_Funding_Details__c"},
}

var outreachMapping = []crm.FieldMap{
	{Field: "referralSource", Attribute: "Referral_Source__c"},
	{Field: "newsletterOptIn", Attribute: "Newsletter_Opt_In__c", Fallback: false},
}

func mappings(parts ...[]crm.FieldMap) []crm.FieldMap {
	var out []crm.FieldMap
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func concat(groups ...group) group {
	var out group
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var projectGrants = Definition{
	ID:    "project-grants",
	Title: "Project Grants",
	Fields: concat(
		contactGroup,
		group{choice("applicantType", "Are you applying as an individual or a team?", true, "Individual", "Team")},
		projectGroup,
		fundingGroup,
		group{attachment("proposal", "Proposal (PDF)", false, MaxAttachmentSize, ".pdf")},
		outreachGroup,
	),
	Rules:         []schema.Rule{otherFundingRule},
	Discriminator: "applicantType",
	Variants: map[string]variant{
		"Individual": {fields: group{link("profileLink", "GitHub or personal profile", true)}},
		"Team": {fields: group{
			number("teamSize", "Team size", true, 2, 100),
			longText("teamProfile", "Team profile", "Tell us about each member.", true, 0, 2000),
		}},
	},
	Mapping: crm.Mapping{
		Object: "Lead",
		Static: crm.Attributes{"LeadSource": "Webform"},
		Fields: mappings(contactMapping, []crm.FieldMap{
			{Field: "applicantType", Attribute: "Individual_or_Team__c"},
			{Field: "profileLink", Attribute: "Profile_Link__c"},
			{Field: "teamSize", Attribute: "Team_Size__c"},
			{Field: "teamProfile", Attribute: "Team_Profile__c"},
		}, projectMapping, fundingMapping, outreachMapping),
	},
}

// smallGrants reuses the project groups and trims the form through
// overrides rather than a second copy of the fields.
var smallGrants = Definition{
	ID:    "small-grants",
	Title: "Small Grants",
	Fields: concat(
		contactGroup,
		projectGroup.with("requestedAmount", func(f *schema.FieldSpec) { f.Max = schema.Bound(30_000) }),
		group{choice("category", "Category", true,
			"Community & Education", "Developer Tooling", "Research", "Cryptography", "Other")},
		outreachGroup,
	),
	Overrides: map[string]formconfig.Override{
		"website":            formconfig.Removed,
		"timezone":           formconfig.Removed,
		"problemBeingSolved": {Label: formconfig.Str("What problem does this grant solve?"), Rows: formconfig.Int(3)},
		"requestedAmount":    {HelpText: formconfig.Str("Small grants are capped at 30,000 USD.")},
		"projectDescription": {Rows: formconfig.Int(8)},
	},
	Mapping: crm.Mapping{
		Object: "Lead",
		Static: crm.Attributes{"LeadSource": "Webform", "Grant_Size__c": "Small"},
		Fields: mappings(contactMapping, projectMapping, []crm.FieldMap{
			{Field: "category", Attribute: "Category__c"},
		}, outreachMapping),
	},
}

var academicGrants = Definition{
	ID:    "academic-grants",
	Title: "Academic Grants",
	Fields: concat(
		contactGroup.with("company", func(f *schema.FieldSpec) { f.Required = true }),
		group{
			choice("position", "Position", true, "Professor", "Postdoc", "PhD student", "Other"),
			text("positionOther", "Other position", false, 80),
			text("researchTitle", "Research title", true, 255),
			longText("researchAbstract", "Abstract", "Summarize the research question and method.", true, 100, 4000),
			longText("timeline", "Timeline", "Key milestones and dates.", true, 0, 2000),
			number("requestedAmount", "Requested amount (USD)", true, 0, 50_000),
			attachment("proposal", "Research proposal (PDF)", true, MaxAttachmentSize, ".pdf"),
		},
		fundingGroup,
		outreachGroup.without("newsletterOptIn"),
	),
	Rules: []schema.Rule{
		schema.RequiredWhenEquals("positionOther", "position", "Other"),
		otherFundingRule,
	},
	Overrides: map[string]formconfig.Override{
		"company": {Label: formconfig.Str("University or institution")},
	},
	Mapping: crm.Mapping{
		Object: "Lead",
		Static: crm.Attributes{"LeadSource": "Webform"},
		Fields: mappings(contactMapping, []crm.FieldMap{
			{Field: "position", Attribute: "Position__c"},
			{Field: "positionOther", Attribute: "Position_Other__c"},
			{Field: "researchTitle", Attribute: "Project_Name__c"},
			{Field: "researchAbstract", Attribute: "Project_Description__c"},
			{Field: "timeline", Attribute: "Timeline__c"},
			{Field: "requestedAmount", Attribute: "Requested_Amount__c"},
		}, fundingMapping, outreachMapping[:1]),
	},
}

var communitySupport = Definition{
	ID:    "community-support",
	Title: "Community Event & Initiative Support",
	Fields: concat(
		contactGroup,
		group{choice("supportType", "What do you need support for?", true, "Event", "Community Initiative")},
		outreachGroup,
	),
	Discriminator: "supportType",
	Variants: map[string]variant{
		"Event": {
			fields: group{
				text("eventName", "Event name", true, 255),
				text("eventDate", "Event date", true, 40),
				link("eventLink", "Event link", false),
				number("expectedAttendees", "Expected attendees", true, 1, 100_000),
				number("eventBudget", "Event budget (USD)", false, 0, 1_000_000),
			},
		},
		"Community Initiative": {
			fields: group{
				text("initiativeName", "Initiative name", true, 255),
				longText("initiativeDescription", "Describe the initiative", "", true, 30, 2000),
				multiChoice("requestedSupport", "What support are you requesting?", true,
					"Funding", "Tickets", "Speakers", "Swag"),
				number("ticketRequest", "How many tickets?", false, 1, 500),
				number("fundingAmount", "Funding amount (USD)", false, 0, 100_000),
			},
			rules: []schema.Rule{
				schema.RequiredWhenSelected("ticketRequest", "requestedSupport", "Tickets"),
				schema.RequiredWhenSelected("fundingAmount", "requestedSupport", "Funding"),
			},
		},
	},
	Overrides: map[string]formconfig.Override{
		"timezone":          formconfig.Removed,
		"eventBudget":       {HelpText: formconfig.Str("Leave empty if you are not requesting funding.")},
		"requestedSupport":  {HelpText: formconfig.Str("Select every kind of support that applies.")},
		"expectedAttendees": {Label: formconfig.Str("Expected number of attendees")},
	},
	Mapping: crm.Mapping{
		Object: "Lead",
		Static: crm.Attributes{"LeadSource": "Webform"},
		Fields: mappings(contactMapping, []crm.FieldMap{
			{Field: "supportType", Attribute: "Support_Type__c"},
			{Field: "eventName", Attribute: "Event_Name__c"},
			{Field: "eventDate", Attribute: "Event_Date__c"},
			{Field: "eventLink", Attribute: "Event_Link__c"},
			{Field: "expectedAttendees", Attribute: "Expected_Attendees__c"},
			{Field: "eventBudget", Attribute: "Event_Budget__c"},
			{Field: "initiativeName", Attribute: "Project_Name__c"},
			{Field: "initiativeDescription", Attribute: "Project_Description__c"},
			{Field: "requestedSupport", Attribute: "Requested_Support__c"},
			{Field: "ticketRequest", Attribute: "Ticket_Request__c"},
			{Field: "fundingAmount", Attribute: "Requested_Amount__c"},
		}, outreachMapping),
	},
}

// Definitions returns every built-in round in listing order.
func Definitions() []Definition {
	return []Definition{projectGrants, smallGrants, academicGrants, communitySupport}
}
