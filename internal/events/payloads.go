package events

import (
	"context"

	"github.com/google/uuid"
)

// FlowChainReplaced is published after a chain's graph has been rebuilt.
type FlowChainReplaced struct {
	ChainID                    uuid.UUID `json:"chainId"`
	Revision                   int       `json:"revision"`
	StagesCreated              int       `json:"stagesCreated"`
	StepsCreated               int       `json:"stepsCreated"`
	RoleGrantsCreated          int       `json:"roleGrantsCreated"`
	StepTransitionsCreated     int       `json:"stepTransitionsCreated"`
	StageTransitionsCreated    int       `json:"stageTransitionsCreated"`
	UnresolvedStepTransitions  int       `json:"unresolvedStepTransitions"`
	UnresolvedStageTransitions int       `json:"unresolvedStageTransitions"`
}

// CampaignFlowChanged is published when an assignment is attached, detached or made default.
type CampaignFlowChanged struct {
	CampaignID           uuid.UUID  `json:"campaignId"`
	AssignmentID         uuid.UUID  `json:"assignmentId"`
	FlowChainID          uuid.UUID  `json:"flowChainId"`
	IsDefault            bool       `json:"isDefault"`
	PromotedAssignmentID *uuid.UUID `json:"promotedAssignmentId,omitempty"`
}

// AuditHandler logs every event it receives.
func AuditHandler(logger Logger) Handler {
	return func(_ context.Context, event Event) error {
		logger.Info("domain event",
			"event_id", event.ID,
			"topic", event.Topic,
			"company_id", event.CompanyID,
			"occurred_at", event.OccurredAt,
			"payload", string(event.Payload),
		)
		return nil
	}
}

// Logger is the subset of *slog.Logger used by AuditHandler.
type Logger interface {
	Info(msg string, args ...any)
}
