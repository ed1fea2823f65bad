package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grits/internal/atoms"
)

func TestParsePlanExtractsPhasesAndTasks(t *testing.T) {
	md := `
## Setup

- [ ] [init] Create the project skeleton
- [ ] Write the README (depends: init)

## Build

- [ ] Implement the parser (after: init)
`
	plan, err := ParsePlan(md)
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 3)

	initTask := plan.Tasks[0]
	assert.Equal(t, "init", initTask.Name)
	assert.Equal(t, "Setup", initTask.Phase)
	assert.Equal(t, "Create the project skeleton", initTask.Description)

	readme := plan.Tasks[1]
	assert.Equal(t, []string{"t1"}, readme.DependsOn)

	parser := plan.Tasks[2]
	assert.Equal(t, "Build", parser.Phase)
	assert.Equal(t, []string{"t1"}, parser.DependsOn)
}

func TestParsePlanAssignsSyntheticIDsInSourceOrder(t *testing.T) {
	md := `
- [ ] first task
- [ ] second task
`
	plan, err := ParsePlan(md)
	require.NoError(t, err)
	assert.Equal(t, "t1", plan.Tasks[0].ID)
	assert.Equal(t, "t2", plan.Tasks[1].ID)
}

func TestParsePlanDependencyOnSyntheticID(t *testing.T) {
	md := `
- [ ] first task
- [ ] second task (depends: t1)
`
	plan, err := ParsePlan(md)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, plan.Tasks[1].DependsOn)
}

func TestParsePlanUnresolvedDependencyIsError(t *testing.T) {
	md := `- [ ] lonely task (depends: nobody)`
	_, err := ParsePlan(md)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unresolved reference")
}

func TestParsePlanChecklistMarksCompleted(t *testing.T) {
	md := `- [x] already done`
	plan, err := ParsePlan(md)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, plan.Tasks[0].Status)
	assert.True(t, plan.Tasks[0].Checked)
}

func TestParsePlanRejectsCycle(t *testing.T) {
	md := `
- [ ] [a] first (depends: b)
- [ ] [b] second (depends: a)
`
	_, err := ParsePlan(md)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestInferKindHeuristics(t *testing.T) {
	cases := map[string]atoms.Kind{
		"Write tests for the parser":      atoms.KindTester,
		"Review the pull request":         atoms.KindReviewer,
		"Design the new architecture":     atoms.KindArchitect,
		"Analyze dependency topology":     atoms.KindGritsAnalyzer,
		"Implement the widget factory":    atoms.KindCoder,
	}
	for desc, want := range cases {
		plan, err := ParsePlan("- [ ] " + desc)
		require.NoError(t, err)
		assert.Equal(t, want, plan.Tasks[0].Kind, desc)
	}
}

func TestParsePlanIgnoresNonTaskLines(t *testing.T) {
	md := `
Some prose that is not a task.
- not a checkbox line
- [ ] a real task
`
	plan, err := ParsePlan(md)
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, "a real task", plan.Tasks[0].Description)
}
