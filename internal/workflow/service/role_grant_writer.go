package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campaignops/flowengine/internal/workflow/model"
)

// RoleGrantWriter attaches role approval requirements to steps.
// Role ids belong to an external directory and are stored without lookup.
type RoleGrantWriter struct{}

func NewRoleGrantWriter() *RoleGrantWriter {
	return &RoleGrantWriter{}
}

// WriteInTx creates one FlowStepRole per grant and returns how many were written.
func (w *RoleGrantWriter) WriteInTx(ctx context.Context, tx *gorm.DB, stepID uuid.UUID, grants []model.RoleGrantDefinitionDTO) (int, error) {
	if len(grants) == 0 {
		return 0, nil
	}

	rows := make([]model.FlowStepRole, 0, len(grants))
	for _, g := range grants {
		rows = append(rows, model.FlowStepRole{
			StepID:   stepID,
			RoleID:   g.RoleID,
			Required: g.Required,
		})
	}
	if err := tx.WithContext(ctx).Create(&rows).Error; err != nil {
		return 0, fmt.Errorf("failed to create role grants for step %s: %w", stepID, err)
	}
	return len(rows), nil
}
