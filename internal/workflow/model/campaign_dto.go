package model

import "github.com/google/uuid"

// AttachFlowDTO is the request body for assigning a chain to a campaign.
type AttachFlowDTO struct {
	FlowChainID uuid.UUID `json:"flowChainId" binding:"required"`
	IsDefault   bool      `json:"isDefault"`
}

type CampaignFlowResponseDTO struct {
	ID            uuid.UUID `json:"id"`
	CampaignID    uuid.UUID `json:"campaignId"`
	FlowChainID   uuid.UUID `json:"flowChainId"`
	FlowChainName string    `json:"flowChainName,omitempty"`
	IsDefault     bool      `json:"isDefault"`
}

type CampaignFlowListResponseDTO struct {
	TotalCount int64                     `json:"totalCount"`
	Items      []CampaignFlowResponseDTO `json:"items"`
	Offset     int64                     `json:"offset"`
	Limit      int64                     `json:"limit"`
}

// DetachResult describes the outcome of removing an assignment.
type DetachResult struct {
	Assignment           CampaignFlow `json:"assignment"`
	PromotedAssignmentID *uuid.UUID   `json:"promotedAssignmentId,omitempty"` // Set when the default moved to another assignment
}
