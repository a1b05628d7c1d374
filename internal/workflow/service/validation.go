package service

import (
	"fmt"
	"strings"

	"github.com/campaignops/flowengine/internal/workflow/model"
)

// validateDefinition checks the structure of a submitted definition before anything is written.
// Names are compared exactly as submitted.
func validateDefinition(def *model.ReplaceFlowChainDTO, rejectCycles bool) error {
	stageNames := make(map[string]struct{}, len(def.Stages))
	stepNames := make(map[string]string)

	for i, stage := range def.Stages {
		if strings.TrimSpace(stage.Name) == "" {
			return fmt.Errorf("%w: stage at index %d has no name", ErrValidation, i)
		}
		if _, dup := stageNames[stage.Name]; dup {
			return fmt.Errorf("%w: duplicate stage name %q", ErrValidation, stage.Name)
		}
		stageNames[stage.Name] = struct{}{}

		for j, step := range stage.Steps {
			if strings.TrimSpace(step.Name) == "" {
				return fmt.Errorf("%w: step at index %d of stage %q has no name", ErrValidation, j, stage.Name)
			}
			if owner, dup := stepNames[step.Name]; dup {
				return fmt.Errorf("%w: step name %q is used in stage %q and stage %q", ErrValidation, step.Name, owner, stage.Name)
			}
			stepNames[step.Name] = stage.Name

			for k, grant := range step.AssignedRoles {
				if strings.TrimSpace(grant.RoleID) == "" {
					return fmt.Errorf("%w: role grant at index %d of step %q has no roleId", ErrValidation, k, step.Name)
				}
			}
		}
	}

	if rejectCycles {
		if err := checkAcyclic(def); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	return nil
}
