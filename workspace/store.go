package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/graphserve-ai/graphserve/kb"
	"github.com/graphserve-ai/graphserve/store"
)

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists workspace members, permissions and workflows.
type Store struct {
	pool DBPool
}

// NewStore creates a workspace store over the pool.
func NewStore(pool DBPool) *Store {
	return &Store{pool: pool}
}

// InitSchema creates the workspace tables if they don't exist.
func (s *Store) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS workspace_members (
			id UUID PRIMARY KEY,
			client_workspace_id UUID NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_ws_members_workspace_id ON workspace_members (client_workspace_id);
		CREATE TABLE IF NOT EXISTS workspace_member_permissions (
			id UUID PRIMARY KEY,
			workspace_member_id UUID NOT NULL REFERENCES workspace_members(id) ON DELETE CASCADE,
			allowed_graphs JSONB,
			allowed_app_actions JSONB NOT NULL,
			allowed_workflows JSONB,
			allowed_collections JSONB,
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_ws_permissions_member_id ON workspace_member_permissions (workspace_member_id);
		CREATE TABLE IF NOT EXISTS workspace_workflows (
			id UUID PRIMARY KEY,
			client_workspace_id UUID NOT NULL,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			graph_name TEXT NOT NULL,
			default_workflow_inputs JSONB,
			workflow_runnable_config JSONB,
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_ws_workflows_workspace_id ON workspace_workflows (client_workspace_id);
	`

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create workspace schema: %w", err)
	}
	return nil
}

// CreateMember adds a member to the workspace.
func (s *Store) CreateMember(ctx context.Context, workspaceID uuid.UUID) (*Member, error) {
	member := &Member{ID: uuid.New(), WorkspaceID: workspaceID, IsActive: true}

	query := `
		INSERT INTO workspace_members (id, client_workspace_id, is_active)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`
	err := s.pool.QueryRow(ctx, query, member.ID, member.WorkspaceID, member.IsActive).
		Scan(&member.CreatedAt, &member.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create member: %w", err)
	}
	return member, nil
}

// GetMember returns the member with the given ID.
func (s *Store) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	query := `
		SELECT id, client_workspace_id, is_active, created_at, updated_at
		FROM workspace_members
		WHERE id = $1
	`
	var m Member
	err := s.pool.QueryRow(ctx, query, id).
		Scan(&m.ID, &m.WorkspaceID, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: member %s", store.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load member: %w", err)
	}
	return &m, nil
}

// ListMembers returns the workspace's members with the total count.
func (s *Store) ListMembers(ctx context.Context, workspaceID uuid.UUID, limit, offset int) (*MemberList, error) {
	if limit <= 0 {
		limit = 10
	}

	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM workspace_members WHERE client_workspace_id = $1`, workspaceID).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to count members: %w", err)
	}

	query := `
		SELECT id, client_workspace_id, is_active, created_at, updated_at
		FROM workspace_members
		WHERE client_workspace_id = $1
		ORDER BY created_at
		LIMIT $2 OFFSET $3
	`
	rows, err := s.pool.Query(ctx, query, workspaceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	list := &MemberList{Count: count, Response: []Member{}}
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.WorkspaceID, &m.IsActive, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		list.Response = append(list.Response, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}
	return list, nil
}

// SetMemberActive flips the member's active flag.
func (s *Store) SetMemberActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE workspace_members SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: member %s", store.ErrNotFound, id)
	}
	return nil
}

// DeleteMember removes the member and, by cascade, its permissions.
func (s *Store) DeleteMember(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workspace_members WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: member %s", store.ErrNotFound, id)
	}
	return nil
}

// CreatePermission grants a permission to a member.
func (s *Store) CreatePermission(ctx context.Context, permission *Permission) (*Permission, error) {
	if permission.ID == uuid.Nil {
		permission.ID = uuid.New()
	}

	graphs, actions, workflows, collections, err := marshalPermissionFields(permission)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO workspace_member_permissions
			(id, workspace_member_id, allowed_graphs, allowed_app_actions, allowed_workflows, allowed_collections, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err = s.pool.QueryRow(ctx, query,
		permission.ID, permission.MemberID, graphs, actions, workflows, collections, permission.IsActive).
		Scan(&permission.CreatedAt, &permission.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create permission: %w", err)
	}
	return permission, nil
}

// ListPermissions returns the member's permissions with the total count.
func (s *Store) ListPermissions(ctx context.Context, memberID uuid.UUID, limit, offset int) (*PermissionList, error) {
	if limit <= 0 {
		limit = 10
	}

	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM workspace_member_permissions WHERE workspace_member_id = $1`, memberID).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to count permissions: %w", err)
	}

	query := `
		SELECT id, workspace_member_id, allowed_graphs, allowed_app_actions,
			allowed_workflows, allowed_collections, is_active, created_at, updated_at
		FROM workspace_member_permissions
		WHERE workspace_member_id = $1
		ORDER BY created_at
		LIMIT $2 OFFSET $3
	`
	rows, err := s.pool.Query(ctx, query, memberID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	list := &PermissionList{Count: count, Response: []Permission{}}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		list.Response = append(list.Response, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating permissions: %w", err)
	}
	return list, nil
}

// UpdatePermission replaces the permission's grants and active flag.
func (s *Store) UpdatePermission(ctx context.Context, permission *Permission) error {
	graphs, actions, workflows, collections, err := marshalPermissionFields(permission)
	if err != nil {
		return err
	}

	query := `
		UPDATE workspace_member_permissions
		SET allowed_graphs = $2, allowed_app_actions = $3, allowed_workflows = $4,
			allowed_collections = $5, is_active = $6, updated_at = now()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		permission.ID, graphs, actions, workflows, collections, permission.IsActive)
	if err != nil {
		return fmt.Errorf("failed to update permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: permission %s", store.ErrNotFound, permission.ID)
	}
	return nil
}

// DeletePermission revokes the permission.
func (s *Store) DeletePermission(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workspace_member_permissions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: permission %s", store.ErrNotFound, id)
	}
	return nil
}

// CreateWorkflow registers a workflow in the workspace. The name is
// slugified.
func (s *Store) CreateWorkflow(ctx context.Context, workflow *Workflow) (*Workflow, error) {
	if workflow.ID == uuid.Nil {
		workflow.ID = uuid.New()
	}
	workflow.Name = kb.Slugify(workflow.Name)

	inputs, err := marshalJSONField(workflow.DefaultInputs)
	if err != nil {
		return nil, err
	}
	config, err := marshalJSONField(workflow.RunnableConfig)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO workspace_workflows
			(id, client_workspace_id, name, description, graph_name, default_workflow_inputs, workflow_runnable_config, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err = s.pool.QueryRow(ctx, query,
		workflow.ID, workflow.WorkspaceID, workflow.Name, workflow.Description,
		workflow.GraphName, inputs, config, workflow.IsActive).
		Scan(&workflow.CreatedAt, &workflow.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}
	return workflow, nil
}

// GetWorkflowByName returns the workflow with the given slugified name.
func (s *Store) GetWorkflowByName(ctx context.Context, name string) (*Workflow, error) {
	query := `
		SELECT id, client_workspace_id, name, description, graph_name,
			default_workflow_inputs, workflow_runnable_config, is_active, created_at, updated_at
		FROM workspace_workflows
		WHERE name = $1
	`
	rows, err := s.pool.Query(ctx, query, kb.Slugify(name))
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to load workflow: %w", err)
		}
		return nil, fmt.Errorf("%w: workflow %s", store.ErrNotFound, name)
	}
	return scanWorkflow(rows)
}

// ListWorkflows returns the workspace's workflows with the total count.
func (s *Store) ListWorkflows(ctx context.Context, workspaceID uuid.UUID, limit, offset int) (*WorkflowList, error) {
	if limit <= 0 {
		limit = 10
	}

	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM workspace_workflows WHERE client_workspace_id = $1`, workspaceID).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to count workflows: %w", err)
	}

	query := `
		SELECT id, client_workspace_id, name, description, graph_name,
			default_workflow_inputs, workflow_runnable_config, is_active, created_at, updated_at
		FROM workspace_workflows
		WHERE client_workspace_id = $1
		ORDER BY name
		LIMIT $2 OFFSET $3
	`
	rows, err := s.pool.Query(ctx, query, workspaceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	list := &WorkflowList{Count: count, Response: []Workflow{}}
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		list.Response = append(list.Response, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}
	return list, nil
}

// DeleteWorkflow removes the workflow.
func (s *Store) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workspace_workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: workflow %s", store.ErrNotFound, id)
	}
	return nil
}

func marshalPermissionFields(p *Permission) (graphs, actions, workflows, collections []byte, err error) {
	if graphs, err = marshalJSONField(p.AllowedGraphs); err != nil {
		return nil, nil, nil, nil, err
	}
	if actions, err = json.Marshal(p.AllowedActions); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal allowed actions: %w", err)
	}
	if workflows, err = marshalJSONField(p.AllowedWorkflows); err != nil {
		return nil, nil, nil, nil, err
	}
	if collections, err = marshalJSONField(p.AllowedCollections); err != nil {
		return nil, nil, nil, nil, err
	}
	return graphs, actions, workflows, collections, nil
}

func marshalJSONField[T any](v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal field: %w", err)
	}
	if string(data) == "null" {
		return nil, nil
	}
	return data, nil
}

func scanPermission(rows pgx.Rows) (*Permission, error) {
	var p Permission
	var graphs, actions, workflows, collections []byte

	err := rows.Scan(&p.ID, &p.MemberID, &graphs, &actions, &workflows, &collections,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan permission: %w", err)
	}
	for _, field := range []struct {
		data []byte
		dst  any
	}{
		{graphs, &p.AllowedGraphs},
		{actions, &p.AllowedActions},
		{workflows, &p.AllowedWorkflows},
		{collections, &p.AllowedCollections},
	} {
		if len(field.data) == 0 {
			continue
		}
		if err := json.Unmarshal(field.data, field.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permission field: %w", err)
		}
	}
	return &p, nil
}

func scanWorkflow(rows pgx.Rows) (*Workflow, error) {
	var w Workflow
	var description *string
	var inputs, config []byte

	err := rows.Scan(&w.ID, &w.WorkspaceID, &w.Name, &description, &w.GraphName,
		&inputs, &config, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}
	if description != nil {
		w.Description = *description
	}
	if len(inputs) > 0 {
		if err := json.Unmarshal(inputs, &w.DefaultInputs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow inputs: %w", err)
		}
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &w.RunnableConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow config: %w", err)
		}
	}
	return &w, nil
}
