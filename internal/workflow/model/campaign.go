package model

import "github.com/google/uuid"

// Campaign is owned by the campaign directory; this service only reads it.
type Campaign struct {
	BaseModel
	CompanyID string `gorm:"type:varchar(64);column:company_id;not null;index" json:"companyId"`
	Name      string `gorm:"type:varchar(255);column:name;not null" json:"name"`
}

func (c *Campaign) TableName() string {
	return "campaigns"
}

// CampaignFlow assigns a FlowChain to a Campaign. At most one assignment per campaign is the default;
// that is maintained by AssignmentService, not by a database constraint.
type CampaignFlow struct {
	BaseModel
	CampaignID  uuid.UUID `gorm:"type:uuid;column:campaign_id;not null;index" json:"campaignId"`
	FlowChainID uuid.UUID `gorm:"type:uuid;column:flow_chain_id;not null;index" json:"flowChainId"`
	IsDefault   bool      `gorm:"column:is_default;not null" json:"isDefault"`

	// Relationships
	FlowChain *FlowChain `gorm:"foreignKey:FlowChainID;references:ID" json:"-"`
}

func (cf *CampaignFlow) TableName() string {
	return "campaign_flows"
}

// Role is a read model of the external role directory. Role ids referenced by step grants
// are not validated against it.
type Role struct {
	ID        string `gorm:"type:varchar(64);column:id;primaryKey" json:"id"`
	CompanyID string `gorm:"type:varchar(64);column:company_id;index" json:"companyId"`
	Name      string `gorm:"type:varchar(255);column:name;not null" json:"name"`
}

func (r *Role) TableName() string {
	return "roles"
}
