package suggest

// Defaults returns the built-in rules for the stock schema and roles.
// Config files replace individual sections.
func Defaults() Config {
	return Config{
		FollowUps: map[string][]string{
			"Expenses": {
				"Show me the total expenses per project",
				"Which expenses are still pending approval?",
				"What's the highest expense this month?",
			},
			"Project": {
				"How many active projects do we have?",
				"Show me project expenses breakdown",
				"Which project has the most trips?",
			},
			"Quotation": {
				"Show me pending quotations",
				"What's the total value of approved quotations?",
				"List quotations created this month",
			},
			"QuotationItem": {
				"Show me the most quoted products",
				"What's the average quotation value?",
			},
			"Trip": {
				"How many trips were completed this week?",
				"Show me trips by truck",
				"Which driver has the most trips?",
			},
			"TruckDetails": {
				"Which trucks are under maintenance?",
				"Show me active trucks",
				"List all truck assignments",
			},
			"CashFlow": {
				"Show me this month's cash flow summary",
				"Which projects have pending cash flow entries?",
				"What's the total cash inflow vs outflow?",
			},
			"Billing": {
				"Show me unpaid billing records",
				"What's the total billed amount this month?",
			},
			"product": {
				"List all product categories",
				"Show me product prices",
			},
		},
		Starters: map[string][]string{
			"ADMIN": {
				"Show me a summary of all pending approvals",
				"How many active projects do we have?",
				"What's the total expenses this month?",
				"Show me fleet status overview",
			},
			"ENCODER": {
				"Show me my pending expense submissions",
				"List all quotation drafts",
				"What trips are scheduled this week?",
				"Show me recent customer requests",
			},
			"ACCOUNTANT": {
				"Show me the verification queue",
				"What's this month's cash flow summary?",
				"List pending billing records",
				"Show me expense trends this quarter",
			},
		},
		Ambiguous: map[string]Ambiguity{
			"expenses": {
				Clarification: "Are you looking for expense files, or the actual expense values (amounts)?",
				Options: []string{
					"Show me expense files with their status",
					"Show me expense amounts per project",
				},
			},
			"total": {
				Clarification: "Total for which time period?",
				Options: []string{
					"Total for this month",
					"Total for this year",
					"Total for all time",
				},
			},
			"status": {
				Clarification: "Status of what exactly?",
				Options: []string{
					"Project status",
					"Expense approval status",
					"Trip status",
					"Quotation status",
				},
			},
			"report": {
				Clarification: "What kind of report do you need?",
				Options: []string{
					"Expense summary report",
					"Project financial report",
					"Monthly cash flow report",
				},
			},
		},
		HiddenTopics: map[string][]string{
			"ACCOUNTANT": {"trip", "fleet"},
			"ENCODER":    {"cash flow", "billing"},
		},
		Max: DefaultMax,
	}
}
