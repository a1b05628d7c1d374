package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campaignops/flowengine/internal/workflow/model"
	"github.com/campaignops/flowengine/utils"
)

const tracerName = "github.com/campaignops/flowengine/internal/workflow/service"

// ReplaceResult is what a successful replacement returns to its caller.
type ReplaceResult struct {
	Chain  model.FlowChainResponseDTO
	Report model.ReplaceReport
}

// ReplacedChain describes a committed replacement to post-commit observers.
type ReplacedChain struct {
	ChainID    uuid.UUID
	CompanyID  string
	Revision   int
	Definition *model.ReplaceFlowChainDTO
	Report     model.ReplaceReport
}

// ChainService reads flow chains and rebuilds their graphs.
type ChainService struct {
	db                  *gorm.DB
	builder             *GraphBuilder
	wirer               *TransitionWirer
	rejectCycles        bool
	tracer              trace.Tracer
	postReplaceCallback func(context.Context, ReplacedChain)
}

// NewChainService creates a ChainService. When rejectCycles is set, definitions whose step or
// stage transitions form a cycle are refused.
func NewChainService(db *gorm.DB, builder *GraphBuilder, wirer *TransitionWirer, rejectCycles bool) *ChainService {
	return &ChainService{
		db:           db,
		builder:      builder,
		wirer:        wirer,
		rejectCycles: rejectCycles,
		tracer:       otel.Tracer(tracerName),
	}
}

// SetPostReplaceCallback sets a callback that runs after a replacement commits.
// It must not fail the request; errors are the callback's own to log.
func (s *ChainService) SetPostReplaceCallback(callback func(context.Context, ReplacedChain)) {
	s.postReplaceCallback = callback
}

// Replace discards the chain's current graph and rebuilds it from def in one transaction.
func (s *ChainService) Replace(ctx context.Context, chainID uuid.UUID, companyID string, def *model.ReplaceFlowChainDTO) (*ReplaceResult, error) {
	ctx, span := s.tracer.Start(ctx, "ChainService.Replace", trace.WithAttributes(
		attribute.String("chain.id", chainID.String()),
		attribute.String("company.id", companyID),
		attribute.Int("definition.stages", len(def.Stages)),
	))
	defer span.End()

	result, err := s.replace(ctx, chainID, companyID, def)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("chain.revision", result.Chain.Revision),
		attribute.Int("transitions.unresolved", result.Report.Unresolved()),
	)
	return result, nil
}

func (s *ChainService) replace(ctx context.Context, chainID uuid.UUID, companyID string, def *model.ReplaceFlowChainDTO) (*ReplaceResult, error) {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: flow chain name is required", ErrValidation)
	}

	chain, err := s.authorize(ctx, chainID, companyID)
	if err != nil {
		return nil, err
	}

	if err := validateDefinition(def, s.rejectCycles); err != nil {
		return nil, err
	}

	if def.ExpectedRevision != nil && *def.ExpectedRevision != chain.Revision {
		return nil, fmt.Errorf("%w: expected revision %d, stored revision is %d", ErrConflict, *def.ExpectedRevision, chain.Revision)
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("%w: failed to begin transaction: %w", ErrInternal, tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	report, newRevision, err := s.rebuildInTx(ctx, tx, chainID, name, def)
	if err != nil {
		tx.Rollback()
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: failed to replace flow chain %s: %w", ErrInternal, chainID, err)
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: failed to commit transaction: %w", ErrInternal, err)
	}

	slog.Info("flow chain replaced",
		"chain_id", chainID,
		"company_id", companyID,
		"revision", newRevision,
		"stages", report.StagesCreated,
		"steps", report.StepsCreated,
		"role_grants", report.RoleGrantsCreated,
		"unresolved_transitions", report.Unresolved(),
	)

	hydrated, loadErr := s.loadGraph(ctx, chainID)

	// The replacement is committed, so it is announced even if the reload failed.
	if s.postReplaceCallback != nil {
		s.postReplaceCallback(ctx, ReplacedChain{
			ChainID:    chainID,
			CompanyID:  companyID,
			Revision:   newRevision,
			Definition: def,
			Report:     report,
		})
	}

	if loadErr != nil {
		return nil, fmt.Errorf("%w: flow chain %s was replaced at revision %d but could not be reloaded: %w", ErrInternal, chainID, newRevision, loadErr)
	}

	return &ReplaceResult{
		Chain:  buildFlowChainResponseDTO(hydrated),
		Report: report,
	}, nil
}

// rebuildInTx runs the locked part of a replacement and returns the report and the new revision.
func (s *ChainService) rebuildInTx(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, name string, def *model.ReplaceFlowChainDTO) (model.ReplaceReport, int, error) {
	var report model.ReplaceReport

	var locked model.FlowChain
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", chainID).First(&locked).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return report, 0, fmt.Errorf("%w: flow chain %s", ErrNotFound, chainID)
		}
		return report, 0, fmt.Errorf("failed to lock flow chain: %w", err)
	}
	if def.ExpectedRevision != nil && *def.ExpectedRevision != locked.Revision {
		return report, 0, fmt.Errorf("%w: expected revision %d, stored revision is %d", ErrConflict, *def.ExpectedRevision, locked.Revision)
	}

	if err := s.teardownInTx(ctx, tx, chainID); err != nil {
		return report, 0, err
	}

	res := tx.Model(&model.FlowChain{}).
		Where("id = ? AND revision = ?", chainID, locked.Revision).
		Updates(map[string]any{
			"name":        name,
			"description": def.Description,
			"revision":    gorm.Expr("revision + 1"),
		})
	if res.Error != nil {
		return report, 0, fmt.Errorf("failed to update flow chain metadata: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return report, 0, fmt.Errorf("%w: flow chain %s changed during replacement", ErrConflict, chainID)
	}

	index, err := s.builder.CreateNodesInTx(ctx, tx, chainID, def.Stages, &report)
	if err != nil {
		return report, 0, err
	}
	if err := s.wirer.WireInTx(ctx, tx, def.Stages, index, &report); err != nil {
		return report, 0, err
	}

	return report, locked.Revision + 1, nil
}

// teardownInTx deletes the chain's graph children-first: transitions, role grants, steps, stages.
func (s *ChainService) teardownInTx(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) error {
	var stageIDs []uuid.UUID
	if err := tx.WithContext(ctx).Model(&model.FlowStage{}).Where("chain_id = ?", chainID).Pluck("id", &stageIDs).Error; err != nil {
		return fmt.Errorf("failed to collect stages: %w", err)
	}
	if len(stageIDs) == 0 {
		return nil
	}

	var stepIDs []uuid.UUID
	if err := tx.WithContext(ctx).Model(&model.FlowStep{}).Where("stage_id IN ?", stageIDs).Pluck("id", &stepIDs).Error; err != nil {
		return fmt.Errorf("failed to collect steps: %w", err)
	}

	if err := tx.WithContext(ctx).Where("from_stage_id IN ? OR to_stage_id IN ?", stageIDs, stageIDs).Delete(&model.StageTransition{}).Error; err != nil {
		return fmt.Errorf("failed to delete stage transitions: %w", err)
	}

	if len(stepIDs) > 0 {
		if err := tx.WithContext(ctx).Where("from_step_id IN ?", stepIDs).Delete(&model.FlowTransition{}).Error; err != nil {
			return fmt.Errorf("failed to delete step transitions: %w", err)
		}
		if err := tx.WithContext(ctx).Where("step_id IN ?", stepIDs).Delete(&model.FlowStepRole{}).Error; err != nil {
			return fmt.Errorf("failed to delete role grants: %w", err)
		}
		if err := tx.WithContext(ctx).Where("id IN ?", stepIDs).Delete(&model.FlowStep{}).Error; err != nil {
			return fmt.Errorf("failed to delete steps: %w", err)
		}
	}

	if err := tx.WithContext(ctx).Where("id IN ?", stageIDs).Delete(&model.FlowStage{}).Error; err != nil {
		return fmt.Errorf("failed to delete stages: %w", err)
	}
	return nil
}

// Authorize loads the chain and checks that it belongs to companyID.
func (s *ChainService) Authorize(ctx context.Context, chainID uuid.UUID, companyID string) (*model.FlowChain, error) {
	return s.authorize(ctx, chainID, companyID)
}

func (s *ChainService) authorize(ctx context.Context, chainID uuid.UUID, companyID string) (*model.FlowChain, error) {
	var chain model.FlowChain
	if err := s.db.WithContext(ctx).Where("id = ?", chainID).First(&chain).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: flow chain %s", ErrNotFound, chainID)
		}
		return nil, fmt.Errorf("%w: failed to load flow chain %s: %w", ErrInternal, chainID, err)
	}
	if chain.CompanyID != companyID {
		return nil, fmt.Errorf("%w: flow chain %s belongs to another company", ErrForbidden, chainID)
	}
	return &chain, nil
}

// Get returns the hydrated graph of a chain owned by companyID.
func (s *ChainService) Get(ctx context.Context, chainID uuid.UUID, companyID string) (*model.FlowChainResponseDTO, error) {
	if _, err := s.authorize(ctx, chainID, companyID); err != nil {
		return nil, err
	}
	chain, err := s.loadGraph(ctx, chainID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: flow chain %s", ErrNotFound, chainID)
		}
		return nil, fmt.Errorf("%w: failed to load flow chain graph: %w", ErrInternal, err)
	}
	dto := buildFlowChainResponseDTO(chain)
	return &dto, nil
}

// List returns a page of the company's chains, most recently updated first.
func (s *ChainService) List(ctx context.Context, companyID string, offset, limit *int) (*model.FlowChainListResponseDTO, error) {
	finalOffset, finalLimit := utils.GetPaginationParams(offset, limit)

	scoped := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&model.FlowChain{}).Where("company_id = ?", companyID)
	}

	var totalCount int64
	if err := scoped().Count(&totalCount).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to count flow chains: %w", ErrInternal, err)
	}

	var chains []model.FlowChain
	if err := scoped().Order("updated_at DESC, id ASC").Offset(finalOffset).Limit(finalLimit).Find(&chains).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to list flow chains: %w", ErrInternal, err)
	}

	stageCounts := make(map[uuid.UUID]int64, len(chains))
	if len(chains) > 0 {
		ids := make([]uuid.UUID, 0, len(chains))
		for _, c := range chains {
			ids = append(ids, c.ID)
		}
		var rows []struct {
			ChainID uuid.UUID
			Count   int64
		}
		if err := s.db.WithContext(ctx).Model(&model.FlowStage{}).
			Select("chain_id, count(*) AS count").
			Where("chain_id IN ?", ids).
			Group("chain_id").
			Scan(&rows).Error; err != nil {
			return nil, fmt.Errorf("%w: failed to count stages: %w", ErrInternal, err)
		}
		for _, r := range rows {
			stageCounts[r.ChainID] = r.Count
		}
	}

	items := make([]model.FlowChainSummaryDTO, 0, len(chains))
	for _, c := range chains {
		items = append(items, model.FlowChainSummaryDTO{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			Revision:    c.Revision,
			StageCount:  stageCounts[c.ID],
			UpdatedAt:   c.UpdatedAt,
		})
	}

	return &model.FlowChainListResponseDTO{
		TotalCount: totalCount,
		Items:      items,
		Offset:     int64(finalOffset),
		Limit:      int64(finalLimit),
	}, nil
}

func orderedBy(columns string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Order(columns)
	}
}

// loadGraph reads a chain with its full graph in presentation order.
func (s *ChainService) loadGraph(ctx context.Context, chainID uuid.UUID) (*model.FlowChain, error) {
	var chain model.FlowChain
	err := s.db.WithContext(ctx).
		Preload("Stages", orderedBy("stage_order ASC, created_at ASC, id ASC")).
		Preload("Stages.Steps", orderedBy("order_in_stage ASC, created_at ASC, id ASC")).
		Preload("Stages.Steps.Roles", orderedBy("created_at ASC, id ASC")).
		Preload("Stages.Steps.Roles.Role").
		Preload("Stages.Steps.Transitions", orderedBy("created_at ASC, id ASC")).
		Preload("Stages.Steps.Transitions.ToStep").
		Preload("Stages.Transitions", orderedBy("created_at ASC, id ASC")).
		Preload("Stages.Transitions.ToStage").
		Where("id = ?", chainID).
		First(&chain).Error
	if err != nil {
		return nil, err
	}
	return &chain, nil
}

func buildFlowChainResponseDTO(chain *model.FlowChain) model.FlowChainResponseDTO {
	stages := make([]model.FlowStageResponseDTO, 0, len(chain.Stages))
	for _, stage := range chain.Stages {
		stages = append(stages, buildFlowStageResponseDTO(stage))
	}
	return model.FlowChainResponseDTO{
		ID:          chain.ID,
		CompanyID:   chain.CompanyID,
		Name:        chain.Name,
		Description: chain.Description,
		Revision:    chain.Revision,
		Stages:      stages,
		CreatedAt:   chain.CreatedAt,
		UpdatedAt:   chain.UpdatedAt,
	}
}

func buildFlowStageResponseDTO(stage model.FlowStage) model.FlowStageResponseDTO {
	steps := make([]model.FlowStepResponseDTO, 0, len(stage.Steps))
	for _, step := range stage.Steps {
		steps = append(steps, buildFlowStepResponseDTO(step))
	}

	transitions := make([]model.StageTransitionResponseDTO, 0, len(stage.Transitions))
	for _, t := range stage.Transitions {
		dto := model.StageTransitionResponseDTO{
			ID:        t.ID,
			ToStageID: t.ToStageID,
			Condition: t.Condition,
		}
		if t.ToStage != nil {
			dto.ToStageName = t.ToStage.Name
		}
		transitions = append(transitions, dto)
	}

	return model.FlowStageResponseDTO{
		ID:            stage.ID,
		Name:          stage.Name,
		Order:         stage.Order,
		ExecutionMode: stage.ExecutionMode,
		Steps:         steps,
		Transitions:   transitions,
	}
}

func buildFlowStepResponseDTO(step model.FlowStep) model.FlowStepResponseDTO {
	roles := make([]model.FlowStepRoleResponseDTO, 0, len(step.Roles))
	for _, r := range step.Roles {
		dto := model.FlowStepRoleResponseDTO{
			ID:       r.ID,
			RoleID:   r.RoleID,
			Required: r.Required,
		}
		if r.Role != nil {
			dto.RoleName = r.Role.Name
		}
		roles = append(roles, dto)
	}

	transitions := make([]model.FlowTransitionResponseDTO, 0, len(step.Transitions))
	for _, t := range step.Transitions {
		dto := model.FlowTransitionResponseDTO{
			ID:        t.ID,
			ToStepID:  t.ToStepID,
			Condition: t.Condition,
		}
		if t.ToStep != nil {
			dto.ToStepName = t.ToStep.Name
		}
		transitions = append(transitions, dto)
	}

	return model.FlowStepResponseDTO{
		ID:             step.ID,
		StageID:        step.StageID,
		Name:           step.Name,
		Description:    step.Description,
		OrderInStage:   step.OrderInStage,
		ApprovalPolicy: step.ApprovalPolicy,
		Roles:          roles,
		Transitions:    transitions,
	}
}
