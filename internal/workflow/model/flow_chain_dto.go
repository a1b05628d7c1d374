package model

import (
	"time"

	"github.com/google/uuid"
)

// ReplaceFlowChainDTO is the full definition submitted to rebuild a chain's graph.
// Cross-references between nodes are by name because the nodes have no ids yet.
type ReplaceFlowChainDTO struct {
	Name             string               `json:"name" yaml:"name"`
	Description      string               `json:"description" yaml:"description"`
	CompanyID        string               `json:"companyId,omitempty" yaml:"companyId,omitempty"`               // Accepted for compatibility, the session is authoritative
	ExpectedRevision *int                 `json:"expectedRevision,omitempty" yaml:"expectedRevision,omitempty"` // Optimistic concurrency guard
	Stages           []StageDefinitionDTO `json:"stages" yaml:"stages"`
}

type StageDefinitionDTO struct {
	Name          string                         `json:"name" yaml:"name"`
	Order         int                            `json:"order" yaml:"order"`
	ExecutionMode ExecutionMode                  `json:"executionMode" yaml:"executionMode"`
	Steps         []StepDefinitionDTO            `json:"steps" yaml:"steps"`
	Transitions   []StageTransitionDefinitionDTO `json:"transitions" yaml:"transitions"`
}

type StepDefinitionDTO struct {
	Name           string                        `json:"name" yaml:"name"`
	Description    string                        `json:"description" yaml:"description"`
	OrderInStage   int                           `json:"orderInStage" yaml:"orderInStage"`
	ApprovalPolicy string                        `json:"approvalPolicy" yaml:"approvalPolicy"`
	AssignedRoles  []RoleGrantDefinitionDTO      `json:"assignedRoles" yaml:"assignedRoles"`
	Transitions    []StepTransitionDefinitionDTO `json:"transitions" yaml:"transitions"`
}

type RoleGrantDefinitionDTO struct {
	RoleID   string `json:"roleId" yaml:"roleId"`
	Required bool   `json:"required" yaml:"required"`
}

type StepTransitionDefinitionDTO struct {
	ToStepName string `json:"toStepName" yaml:"toStepName"`
	Condition  string `json:"condition" yaml:"condition"`
}

type StageTransitionDefinitionDTO struct {
	ToStageName string `json:"toStageName" yaml:"toStageName"`
	Condition   string `json:"condition" yaml:"condition"`
}

// ReplaceReport counts what a replacement created and what it had to drop.
type ReplaceReport struct {
	StagesCreated              int `json:"stagesCreated"`
	StepsCreated               int `json:"stepsCreated"`
	RoleGrantsCreated          int `json:"roleGrantsCreated"`
	StepTransitionsCreated     int `json:"stepTransitionsCreated"`
	StageTransitionsCreated    int `json:"stageTransitionsCreated"`
	UnresolvedStepTransitions  int `json:"unresolvedStepTransitions"`
	UnresolvedStageTransitions int `json:"unresolvedStageTransitions"`
}

// Unresolved is the total number of transitions skipped because their target name did not resolve.
func (r ReplaceReport) Unresolved() int {
	return r.UnresolvedStepTransitions + r.UnresolvedStageTransitions
}

// FlowChainResponseDTO is the hydrated graph returned by reads and replacements.
type FlowChainResponseDTO struct {
	ID          uuid.UUID              `json:"id"`
	CompanyID   string                 `json:"companyId"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Revision    int                    `json:"revision"`
	Stages      []FlowStageResponseDTO `json:"stages"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

type FlowStageResponseDTO struct {
	ID            uuid.UUID                    `json:"id"`
	Name          string                       `json:"name"`
	Order         int                          `json:"order"`
	ExecutionMode ExecutionMode                `json:"executionMode"`
	Steps         []FlowStepResponseDTO        `json:"steps"`
	Transitions   []StageTransitionResponseDTO `json:"transitions"`
}

type FlowStepResponseDTO struct {
	ID             uuid.UUID                   `json:"id"`
	StageID        uuid.UUID                   `json:"stageId"`
	Name           string                      `json:"name"`
	Description    string                      `json:"description"`
	OrderInStage   int                         `json:"orderInStage"`
	ApprovalPolicy string                      `json:"approvalPolicy"`
	Roles          []FlowStepRoleResponseDTO   `json:"roles"`
	Transitions    []FlowTransitionResponseDTO `json:"transitions"`
}

type FlowStepRoleResponseDTO struct {
	ID       uuid.UUID `json:"id"`
	RoleID   string    `json:"roleId"`
	RoleName string    `json:"roleName,omitempty"` // Empty when the role is unknown to the directory
	Required bool      `json:"required"`
}

type FlowTransitionResponseDTO struct {
	ID         uuid.UUID `json:"id"`
	ToStepID   uuid.UUID `json:"toStepId"`
	ToStepName string    `json:"toStepName"`
	Condition  string    `json:"condition"`
}

type StageTransitionResponseDTO struct {
	ID          uuid.UUID `json:"id"`
	ToStageID   uuid.UUID `json:"toStageId"`
	ToStageName string    `json:"toStageName"`
	Condition   string    `json:"condition"`
}

// FlowChainSummaryDTO is the list view of a chain.
type FlowChainSummaryDTO struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Revision    int       `json:"revision"`
	StageCount  int64     `json:"stageCount"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type FlowChainListResponseDTO struct {
	TotalCount int64                 `json:"totalCount"`
	Items      []FlowChainSummaryDTO `json:"items"`
	Offset     int64                 `json:"offset"`
	Limit      int64                 `json:"limit"`
}
