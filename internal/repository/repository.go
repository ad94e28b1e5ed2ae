// Package repository persists everything a workflow run leaves behind:
// schema versions, timeline items, workflow runs and artifacts.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/randalmurphal/schemaflow/internal/artifact"
	"github.com/randalmurphal/schemaflow/internal/schema"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict means the caller's latest version number is stale.
	ErrVersionConflict = errors.New("schema version conflict")
)

// TimelineItemType is the closed set of timeline entry kinds.
type TimelineItemType string

const (
	TimelineUser               TimelineItemType = "user"
	TimelineAssistant          TimelineItemType = "assistant"
	TimelineAssistantLog       TimelineItemType = "assistant_log"
	TimelineError              TimelineItemType = "error"
	TimelineSchemaVersion      TimelineItemType = "schema_version"
	TimelineDDLExecutionResult TimelineItemType = "ddl_execution_result"
	TimelineDMLExecutionResult TimelineItemType = "dml_execution_result"
)

// Valid reports whether t is one of the known types.
func (t TimelineItemType) Valid() bool {
	switch t {
	case TimelineUser, TimelineAssistant, TimelineAssistantLog, TimelineError,
		TimelineSchemaVersion, TimelineDDLExecutionResult, TimelineDMLExecutionResult:
		return true
	}
	return false
}

// RunStatus is the final status of a workflow run.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

type BuildingSchema struct {
	ID                  string        `json:"id"`
	DesignSessionID     string        `json:"designSessionId"`
	OrganizationID      string        `json:"organizationId"`
	Schema              schema.Schema `json:"schema"`
	LatestVersionNumber int           `json:"latestVersionNumber"`
}

type CreateBuildingSchemaParams struct {
	DesignSessionID string
	OrganizationID  string
	Initial         schema.Schema
}

type CreateEmptyPatchVersionParams struct {
	BuildingSchemaID    string
	LatestVersionNumber int
}

type CreateVersionParams struct {
	BuildingSchemaID    string
	LatestVersionNumber int
	Patch               []schema.Operation
}

// Version is the result of a successful CreateVersion.
type Version struct {
	Number int
	Schema schema.Schema
}

type TimelineItem struct {
	ID               string           `json:"id"`
	DesignSessionID  string           `json:"designSessionId"`
	Type             TimelineItemType `json:"type"`
	Content          string           `json:"content"`
	Progress         int              `json:"progress"`
	BuildingSchemaID string           `json:"buildingSchemaId,omitempty"`
	VersionNumber    int              `json:"versionNumber,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
}

type CreateTimelineItemParams struct {
	DesignSessionID string
	Type            TimelineItemType
	Content         string
	// Set for schema_version items.
	BuildingSchemaID string
	VersionNumber    int
}

type TimelineItemUpdate struct {
	Content  string
	Progress int
}

type WorkflowRun struct {
	ID              string    `json:"id"`
	DesignSessionID string    `json:"designSessionId"`
	Status          RunStatus `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// SchemaRepository is the persistence surface used by the workflow.
// Implementations must be safe for concurrent use and must make
// CreateEmptyPatchVersion and CreateVersion atomic.
type SchemaRepository interface {
	CreateBuildingSchema(ctx context.Context, p CreateBuildingSchemaParams) (BuildingSchema, error)
	GetSchema(ctx context.Context, buildingSchemaID string) (BuildingSchema, error)

	// CreateEmptyPatchVersion reserves the next version slot and returns
	// its number.
	CreateEmptyPatchVersion(ctx context.Context, p CreateEmptyPatchVersionParams) (int, error)
	// CreateVersion applies a patch on top of the latest version.
	CreateVersion(ctx context.Context, p CreateVersionParams) (Version, error)

	CreateTimelineItem(ctx context.Context, p CreateTimelineItemParams) (TimelineItem, error)
	UpdateTimelineItem(ctx context.Context, id string, u TimelineItemUpdate) error
	ListTimelineItems(ctx context.Context, designSessionID string) ([]TimelineItem, error)

	CreateWorkflowRun(ctx context.Context, designSessionID, workflowRunID string) (WorkflowRun, error)
	UpdateWorkflowRunStatus(ctx context.Context, workflowRunID string, status RunStatus) error
	// LatestWorkflowRun returns the newest run of a design session.
	LatestWorkflowRun(ctx context.Context, designSessionID string) (WorkflowRun, error)

	GetArtifact(ctx context.Context, designSessionID string) (artifact.Artifact, error)
	UpsertArtifact(ctx context.Context, designSessionID string, a artifact.Artifact) error

	Close() error
}
