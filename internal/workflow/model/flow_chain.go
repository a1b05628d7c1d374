package model

import "github.com/google/uuid"

// FlowChain is a named approval-process definition owned by one company.
type FlowChain struct {
	BaseModel
	CompanyID   string `gorm:"type:varchar(64);column:company_id;not null;index" json:"companyId"` // Owning tenant
	Name        string `gorm:"type:varchar(255);column:name;not null" json:"name"`
	Description string `gorm:"type:text;column:description" json:"description"`
	Revision    int    `gorm:"column:revision;not null;default:1" json:"revision"` // Incremented by every successful replacement

	// Relationships
	Stages []FlowStage `gorm:"foreignKey:ChainID;references:ID" json:"-"`
}

func (fc *FlowChain) TableName() string {
	return "flow_chains"
}

// ExecutionMode tells the runtime how to run the steps of a stage. The engine stores it verbatim.
type ExecutionMode string

const (
	ExecutionModeSequential ExecutionMode = "SEQUENTIAL"
	ExecutionModeParallel   ExecutionMode = "PARALLEL"
)

// FlowStage is an ordered phase of a FlowChain grouping one or more steps.
type FlowStage struct {
	BaseModel
	ChainID       uuid.UUID     `gorm:"type:uuid;column:chain_id;not null;index" json:"chainId"`
	Name          string        `gorm:"type:varchar(255);column:name;not null" json:"name"`
	Order         int           `gorm:"column:stage_order;not null" json:"order"` // Presentation order, not unique
	ExecutionMode ExecutionMode `gorm:"type:varchar(50);column:execution_mode" json:"executionMode"`

	// Relationships
	Steps       []FlowStep        `gorm:"foreignKey:StageID;references:ID" json:"-"`
	Transitions []StageTransition `gorm:"foreignKey:FromStageID;references:ID" json:"-"` // Outgoing stage edges
}

func (fs *FlowStage) TableName() string {
	return "flow_stages"
}

// FlowStep is a unit of work inside a stage, optionally gated by role approvals.
type FlowStep struct {
	BaseModel
	ChainID        uuid.UUID `gorm:"type:uuid;column:chain_id;not null;index" json:"chainId"` // Denormalized from the stage
	StageID        uuid.UUID `gorm:"type:uuid;column:stage_id;not null;index" json:"stageId"`
	Name           string    `gorm:"type:varchar(255);column:name;not null" json:"name"`
	Description    string    `gorm:"type:text;column:description" json:"description"`
	OrderInStage   int       `gorm:"column:order_in_stage;not null" json:"orderInStage"`
	ApprovalPolicy string    `gorm:"type:varchar(100);column:approval_policy" json:"approvalPolicy"` // Opaque to this service

	// Relationships
	Roles       []FlowStepRole   `gorm:"foreignKey:StepID;references:ID" json:"-"`
	Transitions []FlowTransition `gorm:"foreignKey:FromStepID;references:ID" json:"-"` // Outgoing step edges
}

func (fs *FlowStep) TableName() string {
	return "flow_steps"
}

// FlowStepRole grants an externally owned role a say in approving a step.
type FlowStepRole struct {
	BaseModel
	StepID   uuid.UUID `gorm:"type:uuid;column:step_id;not null;index" json:"stepId"`
	RoleID   string    `gorm:"type:varchar(64);column:role_id;not null" json:"roleId"`
	Required bool      `gorm:"column:required;not null" json:"required"` // Mandatory vs optional approver

	// Relationships
	Role *Role `gorm:"foreignKey:RoleID;references:ID" json:"-"`
}

func (fsr *FlowStepRole) TableName() string {
	return "flow_step_roles"
}
