package workspace

import (
	"time"

	"github.com/google/uuid"
)

// Member is a user belonging to a client workspace.
type Member struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"client_workspace_id"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission grants a member access to graphs, application actions,
// workflows and collections.
type Permission struct {
	ID                 uuid.UUID   `json:"id"`
	MemberID           uuid.UUID   `json:"workspace_member_id"`
	AllowedGraphs      []string    `json:"allowed_graphs"`
	AllowedActions     []string    `json:"allowed_app_actions"`
	AllowedWorkflows   []uuid.UUID `json:"allowed_workflows"`
	AllowedCollections []uuid.UUID `json:"allowed_collections"`
	IsActive           bool        `json:"is_active"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// Workflow binds a registered graph to a workspace with default inputs
// and a default runnable config.
type Workflow struct {
	ID             uuid.UUID      `json:"id"`
	WorkspaceID    uuid.UUID      `json:"client_workspace_id"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	GraphName      string         `json:"graph_name"`
	DefaultInputs  map[string]any `json:"default_workflow_inputs,omitempty"`
	RunnableConfig map[string]any `json:"workflow_runnable_config,omitempty"`
	IsActive       bool           `json:"is_active"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// MemberList is a paginated member listing with the total count.
type MemberList struct {
	Count    int      `json:"count"`
	Response []Member `json:"response"`
}

// PermissionList is a paginated permission listing with the total count.
type PermissionList struct {
	Count    int          `json:"count"`
	Response []Permission `json:"response"`
}

// WorkflowList is a paginated workflow listing with the total count.
type WorkflowList struct {
	Count    int        `json:"count"`
	Response []Workflow `json:"response"`
}
