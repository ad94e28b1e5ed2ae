// Package artifact holds the analyzed requirements and use cases that are
// persisted per design session and reused across runs.
package artifact

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Requirements is the output of requirements analysis. Requirement maps
// are keyed by category.
type Requirements struct {
	BusinessRequirement       string              `json:"businessRequirement"`
	FunctionalRequirements    map[string][]string `json:"functionalRequirements"`
	NonFunctionalRequirements map[string][]string `json:"nonFunctionalRequirements"`
}

// Summary renders the requirements as prompt text. Categories are sorted.
func (r Requirements) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Business Requirement: %s\n", r.BusinessRequirement)
	writeGroup(&b, "Functional Requirements", r.FunctionalRequirements)
	writeGroup(&b, "Non-Functional Requirements", r.NonFunctionalRequirements)
	return strings.TrimRight(b.String(), "\n")
}

func writeGroup(b *strings.Builder, title string, group map[string][]string) {
	if len(group) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, category := range slices.Sorted(maps.Keys(group)) {
		fmt.Fprintf(b, "- %s:\n", category)
		for _, item := range group[category] {
			fmt.Fprintf(b, "  - %s\n", item)
		}
	}
}

// FunctionalCount returns the number of functional requirement items.
func (r Requirements) FunctionalCount() int {
	n := 0
	for _, items := range r.FunctionalRequirements {
		n += len(items)
	}
	return n
}

// Usecase is a concrete scenario derived from one functional requirement.
type Usecase struct {
	RequirementCategory string `json:"requirementCategory"`
	Requirement         string `json:"requirement"`
	Title               string `json:"title"`
	Description         string `json:"description"`
	// DMLStatements exercise the use case against the schema.
	DMLStatements []string `json:"dmlStatements,omitempty"`
}

// Artifact is the persisted snapshot for a design session.
type Artifact struct {
	Requirements Requirements `json:"requirements"`
	Usecases     []Usecase    `json:"usecases,omitempty"`
}

// WithUsecases returns a copy of a carrying usecases.
func (a Artifact) WithUsecases(usecases []Usecase) Artifact {
	a.Usecases = slices.Clone(usecases)
	return a
}

// Markdown renders the artifact for the final answer.
func (a Artifact) Markdown() string {
	var b strings.Builder
	b.WriteString("## Requirements\n\n")
	b.WriteString(a.Requirements.Summary())
	b.WriteString("\n")
	if len(a.Usecases) > 0 {
		b.WriteString("\n## Use Cases\n")
		for _, uc := range a.Usecases {
			fmt.Fprintf(&b, "\n### %s\n%s\n", uc.Title, uc.Description)
		}
	}
	return b.String()
}
