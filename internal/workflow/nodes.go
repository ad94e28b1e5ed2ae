package workflow

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/schemaflow/internal/agent"
	"github.com/randalmurphal/schemaflow/internal/repository"
	"github.com/randalmurphal/schemaflow/internal/sqlexec"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph"
)

// Dependencies are the collaborators every node works through.
type Dependencies struct {
	Repo   repository.SchemaRepository
	Agents agent.Agents
	SQL    sqlexec.Executor
	// MaxRetries defaults to DefaultMaxRetries.
	MaxRetries int
}

func (d Dependencies) validate() error {
	var errs []error
	if d.Repo == nil {
		errs = append(errs, errors.New("workflow: repository is required"))
	}
	if d.SQL == nil {
		errs = append(errs, errors.New("workflow: SQL executor is required"))
	}
	if err := d.Agents.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// nodes implements every node function over one set of dependencies.
type nodes struct {
	repo       repository.SchemaRepository
	agents     agent.Agents
	sql        sqlexec.Executor
	maxRetries int
}

func newNodes(d Dependencies) *nodes {
	maxRetries := d.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &nodes{repo: d.Repo, agents: d.Agents, sql: d.SQL, maxRetries: maxRetries}
}

// logTimeline appends a timeline item. Failures are logged and otherwise
// ignored; callers that must know use the repository directly.
func (n *nodes) logTimeline(ctx flowgraph.Context, s State, typ repository.TimelineItemType, content string) {
	_, err := n.repo.CreateTimelineItem(ctx, repository.CreateTimelineItemParams{
		DesignSessionID: s.DesignSessionID,
		Type:            typ,
		Content:         content,
	})
	if err != nil {
		ctx.Logger().Warn("failed to persist timeline item", "type", typ, "error", err)
	}
}

// progress is a timeline item updated in place as a step advances.
type progress struct {
	id string
}

func (n *nodes) startProgress(ctx flowgraph.Context, s State, content string) progress {
	item, err := n.repo.CreateTimelineItem(ctx, repository.CreateTimelineItemParams{
		DesignSessionID: s.DesignSessionID,
		Type:            repository.TimelineAssistantLog,
		Content:         content,
	})
	if err != nil {
		ctx.Logger().Warn("failed to persist progress item", "error", err)
		return progress{}
	}
	return progress{id: item.ID}
}

func (n *nodes) updateProgress(ctx flowgraph.Context, p progress, content string, percent int) {
	if p.id == "" {
		return
	}
	if err := n.repo.UpdateTimelineItem(ctx, p.id, repository.TimelineItemUpdate{Content: content, Progress: percent}); err != nil {
		ctx.Logger().Warn("failed to update progress item", "item_id", p.id, "error", err)
	}
}

func countLabel(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
