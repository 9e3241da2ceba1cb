package llm

import (
	"fmt"
	"strings"

	"github.com/scbrown/transcripts/internal/model"
)

// DiscoverySystemPrompt instructs the model to find recurring preferences.
var DiscoverySystemPrompt = `You are an expert at analyzing user behavior patterns from coding assistant conversations.

Your task is to identify recurring patterns, preferences, and stylistic choices from a collection of user prompts given to a coding assistant.

Focus on:
1. EXPLICIT INSTRUCTIONS - Things the user directly asks for (e.g., "always use TypeScript")
2. CORRECTIONS - Things the user corrects, which reveal implicit preferences (e.g., "no, use camelCase")
3. REPEATED REQUESTS - Similar requests made across different sessions
4. STYLE PREFERENCES - Coding style, naming conventions, file organization
5. WORKFLOW PATTERNS - How the user likes to work, what they prioritize

For each pattern you identify:
- Summarize it in one clear sentence
- Quote 2-3 example prompts that demonstrate it
- Rate your confidence: high (appears 3+ times explicitly), medium (appears 2 times or implicitly), low (inferred from single occurrence)
- Suggest a category from: ` + categoryList() + `, or suggest a custom category

Output your analysis as valid JSON with this structure:
{
    "patterns": [
        {
            "summary": "One sentence describing the pattern",
            "examples": ["quote1", "quote2"],
            "confidence": "high|medium|low",
            "category": "category_name"
        }
    ],
    "custom_categories": [
        {
            "name": "category_name",
            "description": "What this category covers"
        }
    ]
}`

func categoryList() string {
	names := make([]string, len(model.PredefinedCategories))
	for i, c := range model.PredefinedCategories {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}

// FormatPrompts renders prompts one per line as "[i] (type, project) text",
// numbered from 1.
func FormatPrompts(prompts []model.Prompt) string {
	var b strings.Builder
	for i, p := range prompts {
		if i > 0 {
			b.WriteByte('\n')
		}
		typ := p.Type
		if typ == "" {
			typ = "general"
		}
		project := p.Project
		if project == "" {
			project = "unknown"
		}
		fmt.Fprintf(&b, "[%d] (%s, %s) %s", i+1, typ, project, p.Text)
	}
	return b.String()
}

// UserMessage wraps formatted prompts in the analysis request.
func UserMessage(prompts []model.Prompt) string {
	return fmt.Sprintf("Analyze these %d user prompts from coding assistant sessions and identify recurring patterns:\n\n%s\n\nRemember to output valid JSON with patterns and any custom categories.",
		len(prompts), FormatPrompts(prompts))
}
