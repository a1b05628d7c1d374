package service

import (
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/campaignops/flowengine/internal/database"
	"github.com/campaignops/flowengine/internal/workflow/model"
)

// setupTestDB returns a gorm handle over sqlmock using the postgres dialect.
func setupTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, sqlMock
}

// setupSQLiteDB returns a migrated private in-memory database limited to one connection.
func setupSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig("silent"))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func newTestChainService(db *gorm.DB, rejectCycles bool) *ChainService {
	return NewChainService(db, NewGraphBuilder(NewRoleGrantWriter()), NewTransitionWirer(), rejectCycles)
}

func seedChain(t *testing.T, db *gorm.DB, companyID, name string) *model.FlowChain {
	t.Helper()
	chain := &model.FlowChain{CompanyID: companyID, Name: name, Revision: 1}
	require.NoError(t, db.Create(chain).Error)
	return chain
}

func seedCampaign(t *testing.T, db *gorm.DB, companyID string) *model.Campaign {
	t.Helper()
	campaign := &model.Campaign{CompanyID: companyID, Name: "Spring Launch"}
	require.NoError(t, db.Create(campaign).Error)
	return campaign
}

func countRows(t *testing.T, db *gorm.DB, m any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(m).Count(&n).Error)
	return n
}

// draftReviewDefinition is a two-stage chain where Review can send work back to Draft.
func draftReviewDefinition() *model.ReplaceFlowChainDTO {
	return &model.ReplaceFlowChainDTO{
		Name:        "Content approval",
		Description: "Draft then review",
		Stages: []model.StageDefinitionDTO{
			{
				Name:          "Draft",
				Order:         1,
				ExecutionMode: model.ExecutionModeSequential,
				Steps: []model.StepDefinitionDTO{
					{
						Name:           "Write",
						OrderInStage:   1,
						ApprovalPolicy: "ANY",
						AssignedRoles:  []model.RoleGrantDefinitionDTO{{RoleID: "copywriter", Required: true}},
						Transitions:    []model.StepTransitionDefinitionDTO{{ToStepName: "Approve", Condition: "submitted"}},
					},
				},
				Transitions: []model.StageTransitionDefinitionDTO{{ToStageName: "Review"}},
			},
			{
				Name:          "Review",
				Order:         2,
				ExecutionMode: model.ExecutionModeParallel,
				Steps: []model.StepDefinitionDTO{
					{
						Name:           "Approve",
						OrderInStage:   1,
						ApprovalPolicy: "ALL",
						AssignedRoles: []model.RoleGrantDefinitionDTO{
							{RoleID: "manager", Required: true},
							{RoleID: "legal", Required: false},
						},
						Transitions: []model.StepTransitionDefinitionDTO{{ToStepName: "Write", Condition: "rejected"}},
					},
				},
			},
		},
	}
}
