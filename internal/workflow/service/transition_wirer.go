package service

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/campaignops/flowengine/internal/workflow/model"
)

// TransitionWirer creates step and stage edges once every node of the chain exists.
type TransitionWirer struct{}

func NewTransitionWirer() *TransitionWirer {
	return &TransitionWirer{}
}

// WireInTx resolves transition targets by name through the index. A target that does not
// resolve is skipped and counted in the report; it never fails the rebuild.
func (w *TransitionWirer) WireInTx(ctx context.Context, tx *gorm.DB, stages []model.StageDefinitionDTO, index *NodeIndex, report *model.ReplaceReport) error {
	for _, stageDef := range stages {
		fromStageID := index.StageNameToID[stageDef.Name]

		for _, stepDef := range stageDef.Steps {
			fromStepID := index.StageSteps[stageDef.Name][stepDef.Name]

			for _, t := range stepDef.Transitions {
				toStepID, ok := index.StepNameToID[t.ToStepName]
				if !ok {
					slog.Warn("skipping step transition with unknown target",
						"from_step", stepDef.Name, "to_step", t.ToStepName)
					report.UnresolvedStepTransitions++
					continue
				}
				transition := &model.FlowTransition{
					FromStepID: fromStepID,
					ToStepID:   toStepID,
					Condition:  t.Condition,
				}
				if err := tx.WithContext(ctx).Create(transition).Error; err != nil {
					return fmt.Errorf("failed to create transition %q -> %q: %w", stepDef.Name, t.ToStepName, err)
				}
				report.StepTransitionsCreated++
			}
		}

		for _, t := range stageDef.Transitions {
			toStageID, ok := index.StageNameToID[t.ToStageName]
			if !ok {
				slog.Warn("skipping stage transition with unknown target",
					"from_stage", stageDef.Name, "to_stage", t.ToStageName)
				report.UnresolvedStageTransitions++
				continue
			}
			transition := &model.StageTransition{
				FromStageID: fromStageID,
				ToStageID:   toStageID,
				Condition:   t.Condition,
			}
			if err := tx.WithContext(ctx).Create(transition).Error; err != nil {
				return fmt.Errorf("failed to create stage transition %q -> %q: %w", stageDef.Name, t.ToStageName, err)
			}
			report.StageTransitionsCreated++
		}
	}
	return nil
}
