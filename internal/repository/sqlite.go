package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/randalmurphal/schemaflow/internal/artifact"
	"github.com/randalmurphal/schemaflow/internal/schema"
)

const migration = `
CREATE TABLE IF NOT EXISTS building_schemas (
	id                TEXT PRIMARY KEY,
	design_session_id TEXT NOT NULL,
	organization_id   TEXT NOT NULL,
	schema            TEXT NOT NULL,
	latest_version    INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS building_schema_versions (
	building_schema_id TEXT NOT NULL REFERENCES building_schemas (id),
	number             INTEGER NOT NULL,
	patch              TEXT NOT NULL,
	created_at         INTEGER NOT NULL,
	PRIMARY KEY (building_schema_id, number)
);
CREATE TABLE IF NOT EXISTS timeline_items (
	seq                INTEGER PRIMARY KEY AUTOINCREMENT,
	id                 TEXT NOT NULL UNIQUE,
	design_session_id  TEXT NOT NULL,
	type               TEXT NOT NULL,
	content            TEXT NOT NULL,
	progress           INTEGER NOT NULL DEFAULT 0,
	building_schema_id TEXT NOT NULL DEFAULT '',
	version_number     INTEGER NOT NULL DEFAULT 0,
	created_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS timeline_items_session_idx ON timeline_items (design_session_id, seq);
CREATE TABLE IF NOT EXISTS workflow_runs (
	seq               INTEGER PRIMARY KEY AUTOINCREMENT,
	id                TEXT NOT NULL UNIQUE,
	design_session_id TEXT NOT NULL,
	status            TEXT NOT NULL,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS artifacts (
	design_session_id TEXT PRIMARY KEY,
	content           TEXT NOT NULL,
	updated_at        INTEGER NOT NULL
);`

const (
	insertBuildingSchemaQuery = `
		INSERT INTO building_schemas (id, design_session_id, organization_id, schema, latest_version, updated_at)
		VALUES (?, ?, ?, ?, 0, ?)`

	getBuildingSchemaQuery = `
		SELECT id, design_session_id, organization_id, schema, latest_version
		FROM building_schemas WHERE id = ?`

	insertVersionQuery = `
		INSERT INTO building_schema_versions (building_schema_id, number, patch, created_at)
		VALUES (?, ?, ?, ?)`

	advanceVersionQuery = `
		UPDATE building_schemas SET schema = ?, latest_version = ?, updated_at = ?
		WHERE id = ? AND latest_version = ?`

	insertTimelineItemQuery = `
		INSERT INTO timeline_items (id, design_session_id, type, content, building_schema_id, version_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	updateTimelineItemQuery = `UPDATE timeline_items SET content = ?, progress = ? WHERE id = ?`

	listTimelineItemsQuery = `
		SELECT id, design_session_id, type, content, progress, building_schema_id, version_number, created_at
		FROM timeline_items WHERE design_session_id = ? ORDER BY seq`

	insertWorkflowRunQuery = `
		INSERT INTO workflow_runs (id, design_session_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`

	updateWorkflowRunStatusQuery = `UPDATE workflow_runs SET status = ?, updated_at = ? WHERE id = ?`

	latestWorkflowRunQuery = `
		SELECT id, design_session_id, status, created_at, updated_at
		FROM workflow_runs WHERE design_session_id = ? ORDER BY seq DESC LIMIT 1`

	getArtifactQuery = `SELECT content FROM artifacts WHERE design_session_id = ?`

	upsertArtifactQuery = `
		INSERT INTO artifacts (design_session_id, content, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (design_session_id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`
)

// SQLiteRepository implements SchemaRepository on SQLite.
type SQLiteRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ SchemaRepository = (*SQLiteRepository)(nil)

// OpenSQLite opens and migrates the database at path. ":memory:" gives a
// private in-memory database.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(migration); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &SQLiteRepository{db: db, now: time.Now}, nil
}

// Close implements SchemaRepository.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

type buildingSchemaRow struct {
	ID              string `db:"id"`
	DesignSessionID string `db:"design_session_id"`
	OrganizationID  string `db:"organization_id"`
	Schema          string `db:"schema"`
	LatestVersion   int    `db:"latest_version"`
}

func (row buildingSchemaRow) decode() (BuildingSchema, error) {
	var s schema.Schema
	if err := json.Unmarshal([]byte(row.Schema), &s); err != nil {
		return BuildingSchema{}, fmt.Errorf("decode schema %s: %w", row.ID, err)
	}
	if s.Tables == nil {
		s = schema.Empty()
	}
	return BuildingSchema{
		ID:                  row.ID,
		DesignSessionID:     row.DesignSessionID,
		OrganizationID:      row.OrganizationID,
		Schema:              s,
		LatestVersionNumber: row.LatestVersion,
	}, nil
}

// CreateBuildingSchema implements SchemaRepository. The initial schema is
// version 0.
func (r *SQLiteRepository) CreateBuildingSchema(ctx context.Context, p CreateBuildingSchemaParams) (BuildingSchema, error) {
	initial := p.Initial
	if initial.Tables == nil {
		initial = schema.Empty()
	}
	doc, err := json.Marshal(initial)
	if err != nil {
		return BuildingSchema{}, fmt.Errorf("encode schema: %w", err)
	}
	id := uuid.NewString()
	if _, err := r.db.ExecContext(ctx, insertBuildingSchemaQuery, id, p.DesignSessionID, p.OrganizationID, string(doc), r.now().UnixNano()); err != nil {
		return BuildingSchema{}, fmt.Errorf("create building schema: %w", err)
	}
	return BuildingSchema{
		ID:              id,
		DesignSessionID: p.DesignSessionID,
		OrganizationID:  p.OrganizationID,
		Schema:          initial,
	}, nil
}

// GetSchema implements SchemaRepository.
func (r *SQLiteRepository) GetSchema(ctx context.Context, buildingSchemaID string) (BuildingSchema, error) {
	return r.getSchema(ctx, r.db, buildingSchemaID)
}

func (r *SQLiteRepository) getSchema(ctx context.Context, q sqlx.QueryerContext, id string) (BuildingSchema, error) {
	var row buildingSchemaRow
	err := sqlx.GetContext(ctx, q, &row, getBuildingSchemaQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return BuildingSchema{}, fmt.Errorf("building schema %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return BuildingSchema{}, fmt.Errorf("get building schema: %w", err)
	}
	return row.decode()
}

// CreateEmptyPatchVersion implements SchemaRepository.
func (r *SQLiteRepository) CreateEmptyPatchVersion(ctx context.Context, p CreateEmptyPatchVersionParams) (int, error) {
	v, err := r.advance(ctx, p.BuildingSchemaID, p.LatestVersionNumber, nil)
	if err != nil {
		return 0, err
	}
	return v.Number, nil
}

// CreateVersion implements SchemaRepository.
func (r *SQLiteRepository) CreateVersion(ctx context.Context, p CreateVersionParams) (Version, error) {
	if len(p.Patch) == 0 {
		return Version{}, fmt.Errorf("%w: no operations", schema.ErrInvalidPatch)
	}
	return r.advance(ctx, p.BuildingSchemaID, p.LatestVersionNumber, p.Patch)
}

// advance appends version latest+1 in one transaction. The update is
// guarded by the expected latest version so concurrent writers conflict
// instead of overwriting each other.
func (r *SQLiteRepository) advance(ctx context.Context, id string, latest int, ops []schema.Operation) (Version, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return Version{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	current, err := r.getSchema(ctx, tx, id)
	if err != nil {
		return Version{}, err
	}
	if current.LatestVersionNumber != latest {
		return Version{}, fmt.Errorf("%w: expected version %d, latest is %d", ErrVersionConflict, latest, current.LatestVersionNumber)
	}

	next := current.Schema
	if len(ops) > 0 {
		if next, err = current.Schema.Apply(ops); err != nil {
			return Version{}, err
		}
	}

	patchDoc, err := json.Marshal(ops)
	if err != nil {
		return Version{}, fmt.Errorf("encode patch: %w", err)
	}
	if ops == nil {
		patchDoc = []byte("[]")
	}
	schemaDoc, err := json.Marshal(next)
	if err != nil {
		return Version{}, fmt.Errorf("encode schema: %w", err)
	}

	number := latest + 1
	now := r.now().UnixNano()
	if _, err := tx.ExecContext(ctx, insertVersionQuery, id, number, string(patchDoc), now); err != nil {
		return Version{}, fmt.Errorf("insert version: %w", err)
	}
	res, err := tx.ExecContext(ctx, advanceVersionQuery, string(schemaDoc), number, now, id, latest)
	if err != nil {
		return Version{}, fmt.Errorf("advance version: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return Version{}, fmt.Errorf("%w: version %d was taken", ErrVersionConflict, number)
	}
	if err := tx.Commit(); err != nil {
		return Version{}, fmt.Errorf("commit version: %w", err)
	}
	return Version{Number: number, Schema: next}, nil
}

type timelineRow struct {
	ID               string `db:"id"`
	DesignSessionID  string `db:"design_session_id"`
	Type             string `db:"type"`
	Content          string `db:"content"`
	Progress         int    `db:"progress"`
	BuildingSchemaID string `db:"building_schema_id"`
	VersionNumber    int    `db:"version_number"`
	CreatedAt        int64  `db:"created_at"`
}

// CreateTimelineItem implements SchemaRepository.
func (r *SQLiteRepository) CreateTimelineItem(ctx context.Context, p CreateTimelineItemParams) (TimelineItem, error) {
	if !p.Type.Valid() {
		return TimelineItem{}, fmt.Errorf("unknown timeline item type %q", p.Type)
	}
	item := TimelineItem{
		ID:               uuid.NewString(),
		DesignSessionID:  p.DesignSessionID,
		Type:             p.Type,
		Content:          p.Content,
		BuildingSchemaID: p.BuildingSchemaID,
		VersionNumber:    p.VersionNumber,
		CreatedAt:        r.now().UTC(),
	}
	_, err := r.db.ExecContext(ctx, insertTimelineItemQuery,
		item.ID, item.DesignSessionID, string(item.Type), item.Content,
		item.BuildingSchemaID, item.VersionNumber, item.CreatedAt.UnixNano())
	if err != nil {
		return TimelineItem{}, fmt.Errorf("create timeline item: %w", err)
	}
	return item, nil
}

// UpdateTimelineItem implements SchemaRepository.
func (r *SQLiteRepository) UpdateTimelineItem(ctx context.Context, id string, u TimelineItemUpdate) error {
	res, err := r.db.ExecContext(ctx, updateTimelineItemQuery, u.Content, u.Progress, id)
	if err != nil {
		return fmt.Errorf("update timeline item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("timeline item %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListTimelineItems implements SchemaRepository.
func (r *SQLiteRepository) ListTimelineItems(ctx context.Context, designSessionID string) ([]TimelineItem, error) {
	var rows []timelineRow
	if err := r.db.SelectContext(ctx, &rows, listTimelineItemsQuery, designSessionID); err != nil {
		return nil, fmt.Errorf("list timeline items: %w", err)
	}
	items := make([]TimelineItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, TimelineItem{
			ID:               row.ID,
			DesignSessionID:  row.DesignSessionID,
			Type:             TimelineItemType(row.Type),
			Content:          row.Content,
			Progress:         row.Progress,
			BuildingSchemaID: row.BuildingSchemaID,
			VersionNumber:    row.VersionNumber,
			CreatedAt:        time.Unix(0, row.CreatedAt).UTC(),
		})
	}
	return items, nil
}

type workflowRunRow struct {
	ID              string `db:"id"`
	DesignSessionID string `db:"design_session_id"`
	Status          string `db:"status"`
	CreatedAt       int64  `db:"created_at"`
	UpdatedAt       int64  `db:"updated_at"`
}

// CreateWorkflowRun implements SchemaRepository.
func (r *SQLiteRepository) CreateWorkflowRun(ctx context.Context, designSessionID, workflowRunID string) (WorkflowRun, error) {
	now := r.now().UTC()
	if _, err := r.db.ExecContext(ctx, insertWorkflowRunQuery, workflowRunID, designSessionID, string(RunPending), now.UnixNano(), now.UnixNano()); err != nil {
		return WorkflowRun{}, fmt.Errorf("create workflow run: %w", err)
	}
	return WorkflowRun{
		ID:              workflowRunID,
		DesignSessionID: designSessionID,
		Status:          RunPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// UpdateWorkflowRunStatus implements SchemaRepository.
func (r *SQLiteRepository) UpdateWorkflowRunStatus(ctx context.Context, workflowRunID string, status RunStatus) error {
	res, err := r.db.ExecContext(ctx, updateWorkflowRunStatusQuery, string(status), r.now().UnixNano(), workflowRunID)
	if err != nil {
		return fmt.Errorf("update workflow run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workflow run %s: %w", workflowRunID, ErrNotFound)
	}
	return nil
}

// LatestWorkflowRun implements SchemaRepository.
func (r *SQLiteRepository) LatestWorkflowRun(ctx context.Context, designSessionID string) (WorkflowRun, error) {
	var row workflowRunRow
	err := r.db.GetContext(ctx, &row, latestWorkflowRunQuery, designSessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkflowRun{}, fmt.Errorf("workflow run for session %s: %w", designSessionID, ErrNotFound)
	}
	if err != nil {
		return WorkflowRun{}, fmt.Errorf("latest workflow run: %w", err)
	}
	return WorkflowRun{
		ID:              row.ID,
		DesignSessionID: row.DesignSessionID,
		Status:          RunStatus(row.Status),
		CreatedAt:       time.Unix(0, row.CreatedAt).UTC(),
		UpdatedAt:       time.Unix(0, row.UpdatedAt).UTC(),
	}, nil
}

// GetArtifact implements SchemaRepository.
func (r *SQLiteRepository) GetArtifact(ctx context.Context, designSessionID string) (artifact.Artifact, error) {
	var content string
	err := r.db.GetContext(ctx, &content, getArtifactQuery, designSessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return artifact.Artifact{}, fmt.Errorf("artifact for session %s: %w", designSessionID, ErrNotFound)
	}
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("get artifact: %w", err)
	}
	var a artifact.Artifact
	if err := json.Unmarshal([]byte(content), &a); err != nil {
		return artifact.Artifact{}, fmt.Errorf("decode artifact: %w", err)
	}
	return a, nil
}

// UpsertArtifact implements SchemaRepository.
func (r *SQLiteRepository) UpsertArtifact(ctx context.Context, designSessionID string, a artifact.Artifact) error {
	content, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, upsertArtifactQuery, designSessionID, string(content), r.now().UnixNano()); err != nil {
		return fmt.Errorf("upsert artifact: %w", err)
	}
	return nil
}
