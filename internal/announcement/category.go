package announcement

// CategoryGroup is a top-level bucket of announcement categories.
type CategoryGroup struct {
	Name  string   `json:"name"`
	Color string   `json:"color"`
	Items []string `json:"items"`
}

// FallbackGroup receives categories that belong to no group.
const FallbackGroup = "Administrative Matters"

var categoryGroups = []CategoryGroup{
	{"Key Documents & Meetings", "#D1FAE4", []string{"Annual Report", "Investor/Analyst Meet", "Investor Presentation", "Concall Transcript"}},
	{"Corporate Governance & Admin", "#FFE4E5", []string{"Change in KMP", "Name Change", "Demise of KMP", "Change in Address", "Change in MOA"}},
	{"Corporate Actions", "#FEF2C7", []string{"Mergers/Acquisitions", "Bonus/Stock Split", "Divestitures", "Buyback", "Consolidation of Shares", "Demerger", "Joint Ventures", "Incorporation/Cessation of Subsidiary", "Open Offer"}},
	{"Capital & Financing", "#DBEAFE", []string{"Fundraise - Rights Issue", "Fundraise - Preferential Issue", "Increase in Share Capital", "Fundraise - QIP", "DRHP", "Reduction in Share Capital", "Debt & Financing", "Debt Reduction", "Interest Rates Updates", "One Time Settlement (OTS)"}},
	{"Strategic & Business Operations", "#FCE7F3", []string{"Agreements/MoUs", "Expansion", "Operational Update", "New Order", "New Product", "Closure of Factory", "Disruption of Operations", "PLI Scheme"}},
	{"Financial Reporting & Ratings", "#EDE9FE", []string{"Financial Results", "Credit Rating"}},
	{"Regulatory & Legal", "#FFF7ED", []string{"Regulatory Approvals/Orders", "USFDA", "Global Pharma Regulation", "Litigation & Notices", "Insolvency and Bankruptcy", "Anti-dumping Duty", "Delisting", "Trading Suspension", "Clarifications/Confirmations"}},
	{FallbackGroup, "#E2E8F0", []string{"Procedural/Administrative", "Board Meeting", "AGM/EGM", "Dividend", "Corporate Action", "Management Changes", "Strategic Update", "Other"}},
}

var groupByCategory = func() map[string]string {
	m := make(map[string]string)
	for _, g := range categoryGroups {
		for _, it := range g.Items {
			m[it] = g.Name
		}
	}
	return m
}()

// CategoryGroups returns a copy of the category hierarchy.
func CategoryGroups() []CategoryGroup {
	out := make([]CategoryGroup, len(categoryGroups))
	for i, g := range categoryGroups {
		out[i] = CategoryGroup{Name: g.Name, Color: g.Color, Items: append([]string(nil), g.Items...)}
	}
	return out
}

// GroupOf returns the group a category belongs to.
func GroupOf(category string) string {
	if g, ok := groupByCategory[category]; ok {
		return g
	}
	return FallbackGroup
}

func AllCategories() []string {
	out := make([]string, 0, len(groupByCategory))
	for _, g := range categoryGroups {
		out = append(out, g.Items...)
	}
	return out
}
