package extract

import (
	"strconv"
	"strings"
	"text/template"

	"lifeledger/internal/core"
)

const (
	// AgentName names the extraction agent and the app its sessions live under.
	AgentName        = "ExpenseProcessor"
	AgentDescription = "Extracts expense entries from text and images"
)

var instructionTemplate = template.Must(template.New("instruction").Parse(`You are an assistant that extracts expense information from user text and images such as receipts and credit card statements.

Respond with ONLY one JSON object in exactly this shape:
{
  "year": number,
  "month": number,
  "entries": [
    {"category": "exact category name", "amount": number, "notes": "brief explanation"}
  ]
}

Output rules:
- No prose, no explanations, no markdown, no code fences. Only the raw JSON object.
- "entries" is required. Use an empty array when nothing can be extracted.
- Include "year" and "month" ONLY when the user's input states them explicitly. Never infer them from today's date. "month" is 1-12.
- "amount" is a plain number. Use negative amounts for credits and refunds.

Category rules:
- Use ONLY these exact category names: {{.Categories}}
- Anything that does not match one of them must use "{{.Others}}".
- Merge every "{{.Others}}" item into ONE "{{.Others}}" entry. Its notes state how the amount was derived, briefly.
- Notes are short and to the point.

Example input: "I spent $25 on lunch today"
Example output: {"entries": [{"category": "Food", "amount": 25, "notes": "Lunch expense"}]}

Example input: "March 2024 statement: Personal $13.42, Home $11.67"
Example output: {"year": 2024, "month": 3, "entries": [{"category": "{{.Others}}", "amount": 25.09, "notes": "Sum: 'Personal' ($13.42) + 'Home' ($11.67) = $25.09."}]}

Bad notes: Extracted from the 'Shopping' row in the provided spending breakdown.
Bad notes: Calculated by summing 'Personal' ($13.42) and 'Home' ($11.67) expenses, as these categories are not in the allowed list.
Good notes: From 'Shopping' row.
Good notes: Sum: 'Personal' ($13.42) + 'Home' ($11.67) = $25.09.
`))

// BuildInstruction renders the system instruction for a vocabulary. The same
// vocabulary always yields the same text.
func BuildInstruction(categories []string) string {
	var sb strings.Builder
	// the template and its data are fixed; Execute cannot fail
	_ = instructionTemplate.Execute(&sb, struct {
		Categories string
		Others     string
	}{
		Categories: formatCategories(categories),
		Others:     core.OthersCategory,
	})
	return sb.String()
}

func formatCategories(categories []string) string {
	quoted := make([]string, 0, len(categories)+1)
	hasOthers := false
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if c == core.OthersCategory {
			hasOthers = true
		}
		quoted = append(quoted, strconv.Quote(c))
	}
	if !hasOthers {
		quoted = append(quoted, strconv.Quote(core.OthersCategory))
	}
	return strings.Join(quoted, ", ")
}
