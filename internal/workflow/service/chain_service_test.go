package service

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/campaignops/flowengine/internal/workflow/model"
)

func intPtr(v int) *int { return &v }

func TestChainService_Replace_EmptyName(t *testing.T) {
	db, sqlMock := setupTestDB(t)
	service := newTestChainService(db, false)

	_, err := service.Replace(context.Background(), uuid.New(), "company-a", &model.ReplaceFlowChainDTO{Name: "   "})
	assert.ErrorIs(t, err, ErrValidation)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestChainService_Replace_NotFoundWithoutTransaction(t *testing.T) {
	db, sqlMock := setupTestDB(t)
	service := newTestChainService(db, false)
	chainID := uuid.New()

	sqlMock.ExpectQuery(`SELECT \* FROM "flow_chains" WHERE id = \$1 ORDER BY "flow_chains"."id" LIMIT \$2`).
		WithArgs(chainID, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := service.Replace(context.Background(), chainID, "company-a", draftReviewDefinition())
	assert.ErrorIs(t, err, ErrNotFound)
	// No BEGIN expected: nothing is mutated.
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestChainService_Replace_ForbiddenWithoutTransaction(t *testing.T) {
	db, sqlMock := setupTestDB(t)
	service := newTestChainService(db, false)
	chainID := uuid.New()

	sqlMock.ExpectQuery(`SELECT \* FROM "flow_chains" WHERE id = \$1`).
		WithArgs(chainID, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id", "name", "revision"}).
			AddRow(chainID.String(), "company-b", "Theirs", 4))

	_, err := service.Replace(context.Background(), chainID, "company-a", draftReviewDefinition())
	assert.ErrorIs(t, err, ErrForbidden)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestChainService_Replace_LoadFailureIsInternal(t *testing.T) {
	db, sqlMock := setupTestDB(t)
	service := newTestChainService(db, false)
	chainID := uuid.New()

	sqlMock.ExpectQuery(`SELECT \* FROM "flow_chains"`).
		WithArgs(chainID, 1).
		WillReturnError(errors.New("connection reset"))

	_, err := service.Replace(context.Background(), chainID, "company-a", draftReviewDefinition())
	assert.ErrorIs(t, err, ErrInternal)
	assert.ErrorContains(t, err, "connection reset")
}

func TestChainService_Replace_DraftReviewScenario(t *testing.T) {
	db := setupSQLiteDB(t)
	service := newTestChainService(db, false)
	chain := seedChain(t, db, "company-a", "Old name")
	require.NoError(t, db.Create(&model.Role{ID: "manager", CompanyID: "company-a", Name: "Marketing Manager"}).Error)

	var observed []ReplacedChain
	service.SetPostReplaceCallback(func(_ context.Context, rc ReplacedChain) {
		observed = append(observed, rc)
	})

	result, err := service.Replace(context.Background(), chain.ID, "company-a", draftReviewDefinition())
	require.NoError(t, err)

	got := result.Chain
	assert.Equal(t, "Content approval", got.Name)
	assert.Equal(t, "Draft then review", got.Description)
	assert.Equal(t, 2, got.Revision)
	require.Len(t, got.Stages, 2)

	draft, review := got.Stages[0], got.Stages[1]
	assert.Equal(t, "Draft", draft.Name)
	assert.Equal(t, model.ExecutionModeSequential, draft.ExecutionMode)
	assert.Equal(t, "Review", review.Name)
	assert.Equal(t, model.ExecutionModeParallel, review.ExecutionMode)

	require.Len(t, draft.Steps, 1)
	write := draft.Steps[0]
	assert.Equal(t, "Write", write.Name)
	assert.Equal(t, "ANY", write.ApprovalPolicy)
	require.Len(t, write.Roles, 1)
	assert.Equal(t, "copywriter", write.Roles[0].RoleID)
	assert.True(t, write.Roles[0].Required)
	require.Len(t, write.Transitions, 1)
	assert.Equal(t, "Approve", write.Transitions[0].ToStepName)
	assert.Equal(t, "submitted", write.Transitions[0].Condition)

	require.Len(t, review.Steps, 1)
	approve := review.Steps[0]
	assert.Equal(t, write.Transitions[0].ToStepID, approve.ID)
	require.Len(t, approve.Roles, 2)
	roleNames := map[string]string{}
	for _, r := range approve.Roles {
		roleNames[r.RoleID] = r.RoleName
	}
	// Unknown roles are kept and simply have no directory name.
	assert.Equal(t, map[string]string{"manager": "Marketing Manager", "legal": ""}, roleNames)
	require.Len(t, approve.Transitions, 1)
	assert.Equal(t, write.ID, approve.Transitions[0].ToStepID)

	require.Len(t, draft.Transitions, 1)
	assert.Equal(t, review.ID, draft.Transitions[0].ToStageID)
	assert.Equal(t, "Review", draft.Transitions[0].ToStageName)
	assert.Empty(t, review.Transitions)

	assert.Equal(t, model.ReplaceReport{
		StagesCreated:           2,
		StepsCreated:            2,
		RoleGrantsCreated:       3,
		StepTransitionsCreated:  2,
		StageTransitionsCreated: 1,
	}, result.Report)

	require.Len(t, observed, 1)
	assert.Equal(t, chain.ID, observed[0].ChainID)
	assert.Equal(t, 2, observed[0].Revision)
	assert.Equal(t, "company-a", observed[0].CompanyID)
}

func TestChainService_Replace_StepAndStageMayShareAName(t *testing.T) {
	db := setupSQLiteDB(t)
	service := newTestChainService(db, false)
	chain := seedChain(t, db, "company-a", "Chain")

	def := &model.ReplaceFlowChainDTO{
		Name: "Chain",
		Stages: []model.StageDefinitionDTO{
			{
				Name:  "Draft",
				Order: 0,
				Steps: []model.StepDefinitionDTO{{
					Name:         "Write",
					OrderInStage: 0,
					Transitions:  []model.StepTransitionDefinitionDTO{{ToStepName: "Review", Condition: "always"}},
				}},
				Transitions: []model.StageTransitionDefinitionDTO{{ToStageName: "Review", Condition: "approved"}},
			},
			{
				Name:  "Review",
				Order: 1,
				Steps: []model.StepDefinitionDTO{{Name: "Review", OrderInStage: 0}},
			},
		},
	}

	result, err := service.Replace(context.Background(), chain.ID, "company-a", def)
	require.NoError(t, err)

	assert.Equal(t, int64(2), countRows(t, db, &model.FlowStage{}))
	assert.Equal(t, int64(2), countRows(t, db, &model.FlowStep{}))
	assert.Equal(t, int64(1), countRows(t, db, &model.FlowTransition{}))
	assert.Equal(t, int64(1), countRows(t, db, &model.StageTransition{}))

	draft := result.Chain.Stages[0]
	require.Len(t, draft.Steps[0].Transitions, 1)
	assert.Equal(t, "Review", draft.Steps[0].Transitions[0].ToStepName)
	assert.Equal(t, "always", draft.Steps[0].Transitions[0].Condition)
	assert.Equal(t, result.Chain.Stages[1].Steps[0].ID, draft.Steps[0].Transitions[0].ToStepID)
	require.Len(t, draft.Transitions, 1)
	assert.Equal(t, result.Chain.Stages[1].ID, draft.Transitions[0].ToStageID)
}

func TestChainService_Replace_IsNotIdempotent(t *testing.T) {
	db := setupSQLiteDB(t)
	service := newTestChainService(db, false)
	chain := seedChain(t, db, "company-a", "Chain")

	first, err := service.Replace(context.Background(), chain.ID, "company-a", draftReviewDefinition())
	require.NoError(t, err)
	second, err := service.Replace(context.Background(), chain.ID, "company-a", draftReviewDefinition())
	require.NoError(t, err)

	assert.Equal(t, 3, second.Chain.Revision)
	assert.NotEqual(t, first.Chain.Stages[0].ID, second.Chain.Stages[0].ID)
	assert.NotEqual(t, first.Chain.Stages[0].Steps[0].ID, second.Chain.Stages[0].Steps[0].ID)

	// Structure is the same and the old graph is gone.
	assert.Equal(t, int64(2), countRows(t, db, &model.FlowStage{}))
	assert.Equal(t, int64(2), countRows(t, db, &model.FlowStep{}))
	assert.Equal(t, int64(3), countRows(t, db, &model.FlowStepRole{}))
	assert.Equal(t, int64(2), countRows(t, db, &model.FlowTransition{}))
	assert.Equal(t, int64(1), countRows(t, db, &model.StageTransition{}))
}

func TestChainService_Replace_SkipsUnresolvedTransitions(t *testing.T) {
	db := setupSQLiteDB(t)
	service := newTestChainService(db, false)
	chain := seedChain(t, db, "company-a", "Chain")

	def := draftReviewDefinition()
	def.Stages[0].Steps[0].Transitions = append(def.Stages[0].Steps[0].Transitions,
		model.StepTransitionDefinitionDTO{ToStepName: "Publish"})
	def.Stages[1].Transitions = []model.StageTransitionDefinitionDTO{{ToStageName: "Archive"}}

	result, err := service.Replace(context.Background(), chain.ID, "company-a", def)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Report.UnresolvedStepTransitions)
	assert.Equal(t, 1, result.Report.UnresolvedStageTransitions)
	assert.Equal(t, 2, result.Report.Unresolved())
	assert.Equal(t, 2, result.Report.StepTransitionsCreated)
	assert.Len(t, result.Chain.Stages[0].Steps[0].Transitions, 1)
	assert.Empty(t, result.Chain.Stages[1].Transitions)
}

func TestChainService_Replace_EmptyStagesClearsGraph(t *testing.T) {
	db := setupSQLiteDB(t)
	service := newTestChainService(db, false)
	chain := seedChain(t, db, "company-a", "Chain")

	_, err := service.Replace(context.Background(), chain.ID, "company-a", draftReviewDefinition())
	require.NoError(t, err)

	result, err := service.Replace(context.Background(), chain.ID, "company-a", &model.ReplaceFlowChainDTO{Name: "Empty"})
	require.NoError(t, err)

	assert.Empty(t, result.Chain.Stages)
	assert.Equal(t, int64(0), countRows(t, db, &model.FlowStage{}))
	assert.Equal(t, int64(0), countRows(t, db, &model.FlowStep{}))
	assert.Equal(t, int64(0), countRows(t, db, &model.FlowStepRole{}))
	assert.Equal(t, int64(0), countRows(t, db, &model.FlowTransition{}))
	assert.Equal(t, int64(0), countRows(t, db, &model.StageTransition{}))
}

func TestChainService_Replace_LeavesOtherChainsAlone(t *testing.T) {
	db := setupSQLiteDB(t)
	service := newTestChainService(db, false)
	mine := seedChain(t, db, "company-a", "Mine")
	other := seedChain(t, db, "company-a", "Other")

	_, err := service.Replace(context.Background(), other.ID, "company-a", draftReviewDefinition())
	require.NoError(t, err)
	_, err = service.Replace(context.Background(), mine.ID, "company-a", &model.ReplaceFlowChainDTO{Name: "Mine"})
	require.NoError(t, err)

	got, err := service.Get(context.Background(), other.ID, "company-a")
	require.NoError(t, err)
	assert.Len(t, got.Stages, 2)
}

func TestChainService_Replace_StructuralValidation(t *testing.T) {
	db := setupSQLiteDB(t)
	service := newTestChainService(db, false)
	chain := seedChain(t, db, "company-a", "Chain")

	tests := []struct {
		name   string
		mutate func(def *model.ReplaceFlowChainDTO)
	}{
		{"duplicate step name across stages", func(def *model.ReplaceFlowChainDTO) {
			def.Stages[1].Steps[0].Name = "Write"
		}},
		{"duplicate stage name", func(def *model.ReplaceFlowChainDTO) {
			def.Stages[1].Name = "Draft"
		}},
		{"blank stage name", func(def *model.ReplaceFlowChainDTO) {
			def.Stages[0].Name = " "
		}},
		{"blank step name", func(def *model.ReplaceFlowChainDTO) {
			def.Stages[0].Steps[0].Name = ""
		}},
		{"blank role id", func(def *model.ReplaceFlowChainDTO) {
			def.Stages[1].Steps[0].AssignedRoles[1].RoleID = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := draftReviewDefinition()
			tt.mutate(def)
			_, err := service.Replace(context.Background(), chain.ID, "company-a", def)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	var stored model.FlowChain
	require.NoError(t, db.First(&stored, "id = ?", chain.ID).Error)
	assert.Equal(t, 1, stored.Revision)
	assert.Equal(t, int64(0), countRows(t, db, &model.FlowStage{}))
}

func TestChainService_Replace_RejectsCyclesWhenEnabled(t *testing.T) {
	db := setupSQLiteDB(t)
	chain := seedChain(t, db, "company-a", "Chain")

	strict := newTestChainService(db, true)
	_, err := strict.Replace(context.Background(), chain.ID, "company-a", draftReviewDefinition())
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorContains(t, err, "cycle")

	acyclic := draftReviewDefinition()
	acyclic.Stages[1].Steps[0].Transitions = nil
	_, err = strict.Replace(context.Background(), chain.ID, "company-a", acyclic)
	assert.NoError(t, err)

	lenient := newTestChainService(db, false)
	_, err = lenient.Replace(context.Background(), chain.ID, "company-a", draftReviewDefinition())
	assert.NoError(t, err)
}

func TestChainService_Replace_AcceptsAcyclicStagesWhenCyclesRejected(t *testing.T) {
	db := setupSQLiteDB(t)
	chain := seedChain(t, db, "company-a", "Chain")
	service := newTestChainService(db, true)

	def := &model.ReplaceFlowChainDTO{
		Name: "Two stages",
		Stages: []model.StageDefinitionDTO{
			{
				Name:        "Draft",
				Order:       1,
				Steps:       []model.StepDefinitionDTO{{Name: "Write", OrderInStage: 1, Transitions: []model.StepTransitionDefinitionDTO{{ToStepName: "Review"}}}},
				Transitions: []model.StageTransitionDefinitionDTO{{ToStageName: "Review"}},
			},
			{
				Name:  "Review",
				Order: 2,
				Steps: []model.StepDefinitionDTO{{Name: "Review", OrderInStage: 1}},
			},
		},
	}

	result, err := service.Replace(context.Background(), chain.ID, "company-a", def)
	require.NoError(t, err)
	assert.Len(t, result.Chain.Stages, 2)
	assert.Equal(t, 2, result.Report.StagesCreated)
	assert.Equal(t, 2, result.Report.StepsCreated)
	assert.Zero(t, result.Report.Unresolved())
	assert.Equal(t, int64(1), countRows(t, db, &model.StageTransition{}))
	assert.Equal(t, int64(1), countRows(t, db, &model.FlowTransition{}))
}

func TestChainService_Replace_ReloadFailureAfterCommit(t *testing.T) {
	db := setupSQLiteDB(t)
	service := newTestChainService(db, false)
	chain := seedChain(t, db, "company-a", "Chain")

	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("test:fail_role_reads", func(tx *gorm.DB) {
		if tx.Statement.Schema != nil && tx.Statement.Schema.Table == "flow_step_roles" {
			_ = tx.AddError(errors.New("connection reset"))
		}
	}))
	t.Cleanup(func() { _ = db.Callback().Query().Remove("test:fail_role_reads") })

	var announced []ReplacedChain
	service.SetPostReplaceCallback(func(_ context.Context, rc ReplacedChain) { announced = append(announced, rc) })

	_, err := service.Replace(context.Background(), chain.ID, "company-a", draftReviewDefinition())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
	assert.ErrorContains(t, err, "could not be reloaded")

	require.Len(t, announced, 1)
	assert.Equal(t, 2, announced[0].Revision)

	var stored model.FlowChain
	require.NoError(t, db.First(&stored, "id = ?", chain.ID).Error)
	assert.Equal(t, 2, stored.Revision)
	assert.Equal(t, int64(2), countRows(t, db, &model.FlowStage{}))
}

func TestChainService_Replace_ExpectedRevision(t *testing.T) {
	db := setupSQLiteDB(t)
	service := newTestChainService(db, false)
	chain := seedChain(t, db, "company-a", "Chain")

	def := draftReviewDefinition()
	def.ExpectedRevision = intPtr(1)
	result, err := service.Replace(context.Background(), chain.ID, "company-a", def)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Chain.Revision)

	// Same expectation again is now stale.
	_, err = service.Replace(context.Background(), chain.ID, "company-a", def)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrInternal)

	def.ExpectedRevision = intPtr(2)
	result, err = service.Replace(context.Background(), chain.ID, "company-a", def)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Chain.Revision)
}

func TestChainService_Replace_RollsBackOnFailure(t *testing.T) {
	db := setupSQLiteDB(t)
	service := newTestChainService(db, false)
	chain := seedChain(t, db, "company-a", "Chain")

	before, err := service.Replace(context.Background(), chain.ID, "company-a", draftReviewDefinition())
	require.NoError(t, err)

	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_steps", func(tx *gorm.DB) {
		if tx.Statement.Schema != nil && tx.Statement.Schema.Table == "flow_steps" {
			_ = tx.AddError(errors.New("disk full"))
		}
	}))
	t.Cleanup(func() { _ = db.Callback().Create().Remove("test:fail_steps") })

	called := false
	service.SetPostReplaceCallback(func(context.Context, ReplacedChain) { called = true })

	def := draftReviewDefinition()
	def.Name = "Should not stick"
	_, err = service.Replace(context.Background(), chain.ID, "company-a", def)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
	assert.ErrorContains(t, err, "disk full")
	assert.False(t, called)

	after, err := service.Get(context.Background(), chain.ID, "company-a")
	require.NoError(t, err)
	assert.Equal(t, before.Chain.Name, after.Name)
	assert.Equal(t, before.Chain.Revision, after.Revision)
	require.Len(t, after.Stages, 2)
	assert.Equal(t, before.Chain.Stages[0].ID, after.Stages[0].ID)
	assert.Equal(t, before.Chain.Stages[0].Steps[0].ID, after.Stages[0].Steps[0].ID)
}

func TestChainService_Get(t *testing.T) {
	db := setupSQLiteDB(t)
	service := newTestChainService(db, false)
	chain := seedChain(t, db, "company-a", "Chain")

	_, err := service.Get(context.Background(), uuid.New(), "company-a")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = service.Get(context.Background(), chain.ID, "company-b")
	assert.ErrorIs(t, err, ErrForbidden)

	got, err := service.Get(context.Background(), chain.ID, "company-a")
	require.NoError(t, err)
	assert.Equal(t, "Chain", got.Name)
	assert.NotNil(t, got.Stages)
}

func TestChainService_Get_OrdersStagesAndSteps(t *testing.T) {
	db := setupSQLiteDB(t)
	service := newTestChainService(db, false)
	chain := seedChain(t, db, "company-a", "Chain")

	def := &model.ReplaceFlowChainDTO{
		Name: "Ordered",
		Stages: []model.StageDefinitionDTO{
			{Name: "Late", Order: 5, Steps: []model.StepDefinitionDTO{
				{Name: "B", OrderInStage: 2},
				{Name: "A", OrderInStage: 1},
			}},
			{Name: "Early", Order: 1},
		},
	}
	_, err := service.Replace(context.Background(), chain.ID, "company-a", def)
	require.NoError(t, err)

	got, err := service.Get(context.Background(), chain.ID, "company-a")
	require.NoError(t, err)
	require.Len(t, got.Stages, 2)
	assert.Equal(t, "Early", got.Stages[0].Name)
	assert.Equal(t, "Late", got.Stages[1].Name)
	assert.Equal(t, "A", got.Stages[1].Steps[0].Name)
	assert.Equal(t, "B", got.Stages[1].Steps[1].Name)
}

func TestChainService_List(t *testing.T) {
	db := setupSQLiteDB(t)
	service := newTestChainService(db, false)
	withGraph := seedChain(t, db, "company-a", "With graph")
	seedChain(t, db, "company-a", "Empty")
	seedChain(t, db, "company-b", "Foreign")

	_, err := service.Replace(context.Background(), withGraph.ID, "company-a", draftReviewDefinition())
	require.NoError(t, err)

	list, err := service.List(context.Background(), "company-a", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), list.TotalCount)
	assert.Equal(t, int64(20), list.Limit)
	require.Len(t, list.Items, 2)

	counts := map[string]int64{}
	for _, item := range list.Items {
		counts[item.Name] = item.StageCount
	}
	assert.Equal(t, map[string]int64{"Content approval": 2, "Empty": 0}, counts)

	page, err := service.List(context.Background(), "company-a", intPtr(1), intPtr(1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.TotalCount)
	assert.Len(t, page.Items, 1)
}
