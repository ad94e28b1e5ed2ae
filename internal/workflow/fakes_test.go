package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/schemaflow/internal/agent"
	"github.com/randalmurphal/schemaflow/internal/artifact"
	"github.com/randalmurphal/schemaflow/internal/message"
	"github.com/randalmurphal/schemaflow/internal/repository"
	"github.com/randalmurphal/schemaflow/internal/schema"
	"github.com/randalmurphal/schemaflow/internal/sqlexec"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph"
)

const todoRequest = "Add todos table with foreign key to users"

// usersWithoutKey is a users table with no primary key, so a foreign
// key to users.id cannot be created.
func usersWithoutKey() schema.Schema {
	return schema.Schema{Tables: map[string]schema.Table{
		"users": {Columns: map[string]schema.Column{
			"id":   {Type: "bigint", NotNull: true},
			"name": {Type: "text", NotNull: true},
		}},
	}}
}

func testContext() flowgraph.Context {
	return flowgraph.NewContext(context.Background())
}

func openRepo(t testing.TB) *repository.SQLiteRepository {
	t.Helper()
	repo, err := repository.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

// seedSession creates a building schema holding initial.
func seedSession(t testing.TB, repo repository.SchemaRepository, initial schema.Schema) repository.BuildingSchema {
	t.Helper()
	bs, err := repo.CreateBuildingSchema(context.Background(), repository.CreateBuildingSchemaParams{
		DesignSessionID: "session-1",
		OrganizationID:  "org-1",
		Initial:         initial,
	})
	require.NoError(t, err)
	return bs
}

func stateFor(bs repository.BuildingSchema, input string) State {
	return State{
		UserInput:           input,
		Messages:            []message.Message{message.Human(input)},
		SchemaData:          bs.Schema,
		RetryCount:          RetryCounts{},
		BuildingSchemaID:    bs.ID,
		LatestVersionNumber: bs.LatestVersionNumber,
		DesignSessionID:     bs.DesignSessionID,
	}
}

func toolCall(id string, ops ...schema.Operation) message.ToolCall {
	args, err := json.Marshal(schema.Patch{Operations: ops})
	if err != nil {
		panic(err)
	}
	return message.ToolCall{ID: id, Name: agent.SchemaDesignToolName, Arguments: args}
}

func addOp(path string, value any) schema.Operation {
	raw, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	return schema.Operation{Op: schema.OpAdd, Path: path, Value: raw}
}

func addTodosOp() schema.Operation {
	return addOp("/tables/todos", schema.Table{
		Columns: map[string]schema.Column{
			"id":      {Type: "bigint", NotNull: true},
			"title":   {Type: "text", NotNull: true},
			"user_id": {Type: "bigint", NotNull: true},
		},
		Constraints: map[string]schema.Constraint{
			"todos_pkey": {Type: schema.PrimaryKey, ColumnNames: []string{"id"}},
			"todos_user_id_fkey": {
				Type:              schema.ForeignKey,
				ColumnNames:       []string{"user_id"},
				TargetTableName:   "users",
				TargetColumnNames: []string{"id"},
			},
		},
	})
}

func addUsersKeyOp() schema.Operation {
	return addOp("/tables/users/constraints/users_pkey",
		schema.Constraint{Type: schema.PrimaryKey, ColumnNames: []string{"id"}})
}

// fakeDesigner answers each call with the next scripted reply. Calls past
// the script get a plain AI message.
type fakeDesigner struct {
	mu      sync.Mutex
	replies []func() (message.Message, error)
	prompts []string
	history [][]message.Message
}

func (d *fakeDesigner) Design(_ context.Context, vars agent.PromptVariables, msgs []message.Message) (message.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	call := len(d.prompts)
	d.prompts = append(d.prompts, vars.UserMessage)
	d.history = append(d.history, msgs)
	if call < len(d.replies) {
		return d.replies[call]()
	}
	return message.AI("The schema looks complete."), nil
}

func (d *fakeDesigner) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.prompts)
}

func reply(m message.Message) func() (message.Message, error) {
	return func() (message.Message, error) { return m, nil }
}

func replyErr(err error) func() (message.Message, error) {
	return func() (message.Message, error) { return message.Message{}, err }
}

type fakeAssessor struct {
	result agent.PreAssessment
	err    error
}

func (a fakeAssessor) Assess(context.Context, agent.PromptVariables) (agent.PreAssessment, error) {
	return a.result, a.err
}

type fakeAnalyzer struct {
	err error
}

func (a fakeAnalyzer) Analyze(context.Context, agent.PromptVariables, *artifact.Requirements) (agent.Analysis, error) {
	if a.err != nil {
		return agent.Analysis{}, a.err
	}
	return agent.Analysis{
		Requirements: artifact.Requirements{
			BusinessRequirement:    "Users keep a list of todos.",
			FunctionalRequirements: map[string][]string{"Todos": {"Users can add todos"}},
		},
		Reasoning: []string{"The request names a todos table."},
	}, nil
}

type fakeUsecases struct{}

func (fakeUsecases) GenerateUsecases(_ context.Context, _ agent.PromptVariables, reqs artifact.Requirements) ([]artifact.Usecase, error) {
	return []artifact.Usecase{{
		RequirementCategory: "Todos",
		Requirement:         reqs.FunctionalRequirements["Todos"][0],
		Title:               "Add a todo",
		Description:         "A user adds a todo.",
	}}, nil
}

type fakeDML struct{}

func (fakeDML) GenerateDML(_ context.Context, _ agent.PromptVariables, usecases []artifact.Usecase) ([]artifact.Usecase, error) {
	out := make([]artifact.Usecase, len(usecases))
	for i, uc := range usecases {
		uc.DMLStatements = []string{"INSERT INTO todos (id, title, user_id) VALUES (1, 'x', 1)"}
		out[i] = uc
	}
	return out, nil
}

type fakeReviewer struct {
	mu      sync.Mutex
	reviews []agent.Review
	err     error
	calls   int
}

func (r *fakeReviewer) Review(context.Context, agent.PromptVariables, agent.ReviewInput) (agent.Review, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call := r.calls
	r.calls++
	if r.err != nil {
		return agent.Review{}, r.err
	}
	if call < len(r.reviews) {
		return r.reviews[call], nil
	}
	return agent.Review{IsSatisfied: true, Summary: "Added the todos table."}, nil
}

// fakeDatabase fails foreign keys to users until users has a primary key.
type fakeDatabase struct {
	mu      sync.Mutex
	scripts []string
	err     error
}

func (db *fakeDatabase) Execute(_ context.Context, _ string, script string) ([]sqlexec.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.scripts = append(db.scripts, script)
	if db.err != nil {
		return nil, db.err
	}

	usersKeyed := strings.Contains(script, `ADD CONSTRAINT "users_pkey" PRIMARY KEY`)
	var results []sqlexec.Result
	for i, stmt := range sqlexec.Split(script) {
		r := sqlexec.Result{
			ID:       fmt.Sprintf("stmt-%d", i),
			SQL:      stmt,
			Success:  true,
			Metadata: sqlexec.Metadata{ExecutionTime: time.Millisecond, Timestamp: time.Now()},
		}
		if strings.Contains(stmt, `REFERENCES "users"`) && !usersKeyed {
			r.Success = false
			r.Result.Error = `there is no unique constraint matching given keys for referenced table "users"`
		}
		results = append(results, r)
	}
	return results, nil
}

func (db *fakeDatabase) executions() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.scripts)
}

type fixture struct {
	repo     *repository.SQLiteRepository
	bs       repository.BuildingSchema
	designer *fakeDesigner
	reviewer *fakeReviewer
	db       *fakeDatabase
	deps     Dependencies
}

func newFixture(t testing.TB, initial schema.Schema, replies ...func() (message.Message, error)) *fixture {
	t.Helper()
	repo := openRepo(t)
	f := &fixture{
		repo:     repo,
		bs:       seedSession(t, repo, initial),
		designer: &fakeDesigner{replies: replies},
		reviewer: &fakeReviewer{},
		db:       &fakeDatabase{},
	}
	f.deps = Dependencies{
		Repo: repo,
		Agents: agent.Agents{
			Design:   f.designer,
			Assessor: fakeAssessor{result: agent.PreAssessment{Decision: agent.DecisionSufficient, Response: "Let me design that."}},
			Analyzer: fakeAnalyzer{},
			Usecases: fakeUsecases{},
			DML:      fakeDML{},
			Reviewer: f.reviewer,
		},
		SQL: f.db,
	}
	return f
}

func (f *fixture) nodes() *nodes {
	return newNodes(f.deps)
}

func (f *fixture) params() Params {
	return Params{
		UserInput:        todoRequest,
		DesignSessionID:  f.bs.DesignSessionID,
		BuildingSchemaID: f.bs.ID,
		OrganizationID:   "org-1",
		UserID:           "user-1",
	}
}

func (f *fixture) timeline(t *testing.T) []repository.TimelineItem {
	t.Helper()
	items, err := f.repo.ListTimelineItems(context.Background(), f.bs.DesignSessionID)
	require.NoError(t, err)
	return items
}

func countItems(items []repository.TimelineItem, typ repository.TimelineItemType) int {
	n := 0
	for _, it := range items {
		if it.Type == typ {
			n++
		}
	}
	return n
}
