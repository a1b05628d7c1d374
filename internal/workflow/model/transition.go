package model

import "github.com/google/uuid"

// FlowTransition is a directed edge between two steps, possibly in different stages.
type FlowTransition struct {
	BaseModel
	FromStepID uuid.UUID `gorm:"type:uuid;column:from_step_id;not null;index" json:"fromStepId"`
	ToStepID   uuid.UUID `gorm:"type:uuid;column:to_step_id;not null;index" json:"toStepId"`
	Condition  string    `gorm:"type:text;column:condition" json:"condition"` // Interpreted by the runtime only

	// Relationships
	ToStep *FlowStep `gorm:"foreignKey:ToStepID;references:ID" json:"-"`
}

func (ft *FlowTransition) TableName() string {
	return "flow_transitions"
}

// StageTransition is a directed edge between two stages of the same chain.
type StageTransition struct {
	BaseModel
	FromStageID uuid.UUID `gorm:"type:uuid;column:from_stage_id;not null;index" json:"fromStageId"`
	ToStageID   uuid.UUID `gorm:"type:uuid;column:to_stage_id;not null;index" json:"toStageId"`
	Condition   string    `gorm:"type:text;column:condition" json:"condition"`

	// Relationships
	ToStage *FlowStage `gorm:"foreignKey:ToStageID;references:ID" json:"-"`
}

func (st *StageTransition) TableName() string {
	return "stage_transitions"
}
