package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sample() Requirements {
	return Requirements{
		BusinessRequirement: "Track todos per user",
		FunctionalRequirements: map[string][]string{
			"Users": {"Register users"},
			"Todos": {"Create todos", "Complete todos"},
		},
		NonFunctionalRequirements: map[string][]string{
			"Integrity": {"Todos belong to existing users"},
		},
	}
}

// TestSummary tests prompt rendering order.
func TestSummary(t *testing.T) {
	summary := sample().Summary()

	assert.Contains(t, summary, "Business Requirement: Track todos per user")
	assert.Contains(t, summary, "Functional Requirements:\n- Todos:\n  - Create todos\n  - Complete todos\n- Users:")
	assert.Contains(t, summary, "Non-Functional Requirements:\n- Integrity:")
	assert.Equal(t, summary, sample().Summary())
}

// TestFunctionalCount tests item counting.
func TestFunctionalCount(t *testing.T) {
	assert.Equal(t, 3, sample().FunctionalCount())
	assert.Equal(t, 0, Requirements{}.FunctionalCount())
}

// TestArtifact tests copying and rendering.
func TestArtifact(t *testing.T) {
	ucs := []Usecase{{Title: "Create todo", Description: "A user adds a todo"}}
	a := Artifact{Requirements: sample()}.WithUsecases(ucs)
	ucs[0].Title = "changed"

	md := a.Markdown()
	assert.Contains(t, md, "## Requirements")
	assert.Contains(t, md, "### Create todo\nA user adds a todo")
}
