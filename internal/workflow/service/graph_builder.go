package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campaignops/flowengine/internal/workflow/model"
)

// NodeIndex maps definition names to the ids allocated for them during a rebuild.
type NodeIndex struct {
	StageNameToID map[string]uuid.UUID
	StepNameToID  map[string]uuid.UUID            // Chain-wide
	StageSteps    map[string]map[string]uuid.UUID // Per stage name
}

func newNodeIndex() *NodeIndex {
	return &NodeIndex{
		StageNameToID: make(map[string]uuid.UUID),
		StepNameToID:  make(map[string]uuid.UUID),
		StageSteps:    make(map[string]map[string]uuid.UUID),
	}
}

// GraphBuilder creates the stage and step rows of a definition.
type GraphBuilder struct {
	grants *RoleGrantWriter
}

func NewGraphBuilder(grants *RoleGrantWriter) *GraphBuilder {
	return &GraphBuilder{grants: grants}
}

// CreateNodesInTx inserts every stage then its steps in array order, attaching role grants to
// each step as it is created. No transitions are written here.
func (b *GraphBuilder) CreateNodesInTx(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, stages []model.StageDefinitionDTO, report *model.ReplaceReport) (*NodeIndex, error) {
	index := newNodeIndex()

	for _, stageDef := range stages {
		stage := &model.FlowStage{
			ChainID:       chainID,
			Name:          stageDef.Name,
			Order:         stageDef.Order,
			ExecutionMode: stageDef.ExecutionMode,
		}
		if err := tx.WithContext(ctx).Create(stage).Error; err != nil {
			return nil, fmt.Errorf("failed to create stage %q: %w", stageDef.Name, err)
		}
		index.StageNameToID[stage.Name] = stage.ID
		index.StageSteps[stage.Name] = make(map[string]uuid.UUID, len(stageDef.Steps))
		report.StagesCreated++

		for _, stepDef := range stageDef.Steps {
			step := &model.FlowStep{
				ChainID:        chainID,
				StageID:        stage.ID,
				Name:           stepDef.Name,
				Description:    stepDef.Description,
				OrderInStage:   stepDef.OrderInStage,
				ApprovalPolicy: stepDef.ApprovalPolicy,
			}
			if err := tx.WithContext(ctx).Create(step).Error; err != nil {
				return nil, fmt.Errorf("failed to create step %q in stage %q: %w", stepDef.Name, stageDef.Name, err)
			}
			index.StageSteps[stage.Name][step.Name] = step.ID
			index.StepNameToID[step.Name] = step.ID
			report.StepsCreated++

			created, err := b.grants.WriteInTx(ctx, tx, step.ID, stepDef.AssignedRoles)
			if err != nil {
				return nil, fmt.Errorf("failed to assign roles to step %q: %w", stepDef.Name, err)
			}
			report.RoleGrantsCreated += created
		}
	}

	return index, nil
}
