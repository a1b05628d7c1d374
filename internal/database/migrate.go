package database

import (
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/campaignops/flowengine/internal/auth"
	"github.com/campaignops/flowengine/internal/workflow/model"
)

// Models lists every table owned or read by the service, in creation order.
func Models() []any {
	return []any{
		&model.Role{},
		&model.Campaign{},
		&auth.EmployeeSession{},
		&model.FlowChain{},
		&model.FlowStage{},
		&model.FlowStep{},
		&model.FlowStepRole{},
		&model.FlowTransition{},
		&model.StageTransition{},
		&model.CampaignFlow{},
	}
}

type foreignKey struct {
	model    any
	relation string
}

// Relations that get real foreign keys on postgres. FlowStepRole.Role is left out because role
// ids are not validated against the directory.
var foreignKeys = []foreignKey{
	{&model.FlowChain{}, "Stages"},
	{&model.FlowStage{}, "Steps"},
	{&model.FlowStage{}, "Transitions"},
	{&model.StageTransition{}, "ToStage"},
	{&model.FlowStep{}, "Roles"},
	{&model.FlowStep{}, "Transitions"},
	{&model.FlowTransition{}, "ToStep"},
	{&model.CampaignFlow{}, "FlowChain"},
}

// Migrate creates or updates the schema. On postgres it also adds the graph's foreign keys.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	if db.Dialector.Name() != "postgres" {
		return nil
	}

	migrator := db.Migrator()
	for _, fk := range foreignKeys {
		if migrator.HasConstraint(fk.model, fk.relation) {
			continue
		}
		if err := migrator.CreateConstraint(fk.model, fk.relation); err != nil {
			return fmt.Errorf("failed to create constraint %s: %w", fk.relation, err)
		}
	}

	slog.Info("database schema migrated", "tables", len(Models()))
	return nil
}
