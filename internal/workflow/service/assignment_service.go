package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

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

type AssignmentChangeKind string

const (
	AssignmentAttached       AssignmentChangeKind = "attached"
	AssignmentDetached       AssignmentChangeKind = "detached"
	AssignmentDefaultChanged AssignmentChangeKind = "default_changed"
)

// AssignmentChange describes a committed change to a campaign's flow assignments.
type AssignmentChange struct {
	Kind                 AssignmentChangeKind
	CompanyID            string
	Assignment           model.CampaignFlow
	PromotedAssignmentID *uuid.UUID
}

// AssignmentService manages which flow chains a campaign uses and which of them is the default.
// At most one assignment per campaign is default; every mutation holds a row lock on the campaign.
type AssignmentService struct {
	db             *gorm.DB
	tracer         trace.Tracer
	changeCallback func(context.Context, AssignmentChange)
}

func NewAssignmentService(db *gorm.DB) *AssignmentService {
	return &AssignmentService{
		db:     db,
		tracer: otel.Tracer(tracerName),
	}
}

// SetChangeCallback sets a callback that runs after any assignment change commits.
func (s *AssignmentService) SetChangeCallback(callback func(context.Context, AssignmentChange)) {
	s.changeCallback = callback
}

func (s *AssignmentService) notify(ctx context.Context, change AssignmentChange) {
	if s.changeCallback != nil {
		s.changeCallback(ctx, change)
	}
}

// Detach removes an assignment from a campaign. When the removed assignment was the default,
// the earliest-created remaining assignment becomes the default.
func (s *AssignmentService) Detach(ctx context.Context, campaignID, assignmentID uuid.UUID, companyID string) (*model.DetachResult, error) {
	ctx, span := s.tracer.Start(ctx, "AssignmentService.Detach", trace.WithAttributes(
		attribute.String("campaign.id", campaignID.String()),
		attribute.String("assignment.id", assignmentID.String()),
	))
	defer span.End()

	result, err := s.detach(ctx, campaignID, assignmentID, companyID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("default.promoted", result.PromotedAssignmentID != nil))
	return result, nil
}

func (s *AssignmentService) detach(ctx context.Context, campaignID, assignmentID uuid.UUID, companyID string) (*model.DetachResult, error) {
	if _, err := s.loadCampaign(ctx, campaignID, companyID); err != nil {
		return nil, err
	}
	if _, err := s.loadAssignment(ctx, s.db, campaignID, assignmentID); err != nil {
		return nil, err
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

	if err := lockCampaignInTx(tx, campaignID); err != nil {
		tx.Rollback()
		return nil, err
	}

	// Re-read under the lock; a concurrent detach may have removed it.
	assignment, err := s.loadAssignment(ctx, tx, campaignID, assignmentID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Delete(&model.CampaignFlow{}, "id = ?", assignment.ID).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: failed to delete campaign flow %s: %w", ErrInternal, assignment.ID, err)
	}

	result := &model.DetachResult{Assignment: *assignment}
	if assignment.IsDefault {
		var successor model.CampaignFlow
		err := tx.Where("campaign_id = ?", campaignID).Order("created_at ASC, id ASC").First(&successor).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			// Campaign has no assignments left.
		case err != nil:
			tx.Rollback()
			return nil, fmt.Errorf("%w: failed to find default successor: %w", ErrInternal, err)
		default:
			if err := tx.Model(&model.CampaignFlow{}).Where("id = ?", successor.ID).Update("is_default", true).Error; err != nil {
				tx.Rollback()
				return nil, fmt.Errorf("%w: failed to promote campaign flow %s: %w", ErrInternal, successor.ID, err)
			}
			result.PromotedAssignmentID = &successor.ID
		}
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: failed to commit transaction: %w", ErrInternal, err)
	}

	slog.Info("campaign flow detached",
		"campaign_id", campaignID,
		"assignment_id", assignmentID,
		"was_default", assignment.IsDefault,
		"promoted_assignment_id", result.PromotedAssignmentID,
	)
	s.notify(ctx, AssignmentChange{
		Kind:                 AssignmentDetached,
		CompanyID:            companyID,
		Assignment:           result.Assignment,
		PromotedAssignmentID: result.PromotedAssignmentID,
	})
	return result, nil
}

// Attach assigns a chain to a campaign. The campaign's first assignment is always the default;
// attaching with isDefault moves the default to the new assignment.
func (s *AssignmentService) Attach(ctx context.Context, campaignID, chainID uuid.UUID, isDefault bool, companyID string) (*model.CampaignFlowResponseDTO, error) {
	if _, err := s.loadCampaign(ctx, campaignID, companyID); err != nil {
		return nil, err
	}

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

	if err := lockCampaignInTx(tx, campaignID); err != nil {
		tx.Rollback()
		return nil, err
	}

	var existing []model.CampaignFlow
	if err := tx.Where("campaign_id = ?", campaignID).Find(&existing).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: failed to load campaign flows: %w", ErrInternal, err)
	}
	for _, a := range existing {
		if a.FlowChainID == chainID {
			tx.Rollback()
			return nil, fmt.Errorf("%w: flow chain %s is already assigned to campaign %s", ErrIntegrity, chainID, campaignID)
		}
	}

	makeDefault := isDefault || len(existing) == 0
	if makeDefault && len(existing) > 0 {
		if err := tx.Model(&model.CampaignFlow{}).Where("campaign_id = ?", campaignID).Update("is_default", false).Error; err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("%w: failed to clear default campaign flow: %w", ErrInternal, err)
		}
	}

	assignment := model.CampaignFlow{
		CampaignID:  campaignID,
		FlowChainID: chainID,
		IsDefault:   makeDefault,
	}
	if err := tx.Create(&assignment).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: failed to create campaign flow: %w", ErrInternal, err)
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: failed to commit transaction: %w", ErrInternal, err)
	}

	slog.Info("campaign flow attached", "campaign_id", campaignID, "chain_id", chainID, "is_default", makeDefault)
	s.notify(ctx, AssignmentChange{Kind: AssignmentAttached, CompanyID: companyID, Assignment: assignment})

	assignment.FlowChain = &chain
	dto := buildCampaignFlowResponseDTO(assignment)
	return &dto, nil
}

// SetDefault makes the given assignment the campaign's only default.
func (s *AssignmentService) SetDefault(ctx context.Context, campaignID, assignmentID uuid.UUID, companyID string) (*model.CampaignFlowResponseDTO, error) {
	if _, err := s.loadCampaign(ctx, campaignID, companyID); err != nil {
		return nil, err
	}
	if _, err := s.loadAssignment(ctx, s.db, campaignID, assignmentID); err != nil {
		return nil, err
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

	if err := lockCampaignInTx(tx, campaignID); err != nil {
		tx.Rollback()
		return nil, err
	}
	assignment, err := s.loadAssignment(ctx, tx, campaignID, assignmentID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Model(&model.CampaignFlow{}).
		Where("campaign_id = ? AND id <> ?", campaignID, assignmentID).
		Update("is_default", false).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: failed to clear default campaign flow: %w", ErrInternal, err)
	}
	if err := tx.Model(&model.CampaignFlow{}).Where("id = ?", assignmentID).Update("is_default", true).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: failed to set default campaign flow: %w", ErrInternal, err)
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: failed to commit transaction: %w", ErrInternal, err)
	}

	assignment.IsDefault = true
	slog.Info("campaign default flow changed", "campaign_id", campaignID, "assignment_id", assignmentID)
	s.notify(ctx, AssignmentChange{Kind: AssignmentDefaultChanged, CompanyID: companyID, Assignment: *assignment})

	dto := buildCampaignFlowResponseDTO(*assignment)
	return &dto, nil
}

// List returns a page of the campaign's assignments, default first then by creation.
func (s *AssignmentService) List(ctx context.Context, campaignID uuid.UUID, companyID string, offset, limit *int) (*model.CampaignFlowListResponseDTO, error) {
	if _, err := s.loadCampaign(ctx, campaignID, companyID); err != nil {
		return nil, err
	}
	finalOffset, finalLimit := utils.GetPaginationParams(offset, limit)

	var totalCount int64
	if err := s.db.WithContext(ctx).Model(&model.CampaignFlow{}).Where("campaign_id = ?", campaignID).Count(&totalCount).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to count campaign flows: %w", ErrInternal, err)
	}

	var assignments []model.CampaignFlow
	if err := s.db.WithContext(ctx).
		Preload("FlowChain").
		Where("campaign_id = ?", campaignID).
		Order("is_default DESC, created_at ASC, id ASC").
		Offset(finalOffset).
		Limit(finalLimit).
		Find(&assignments).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to list campaign flows: %w", ErrInternal, err)
	}

	items := make([]model.CampaignFlowResponseDTO, 0, len(assignments))
	for _, a := range assignments {
		items = append(items, buildCampaignFlowResponseDTO(a))
	}
	return &model.CampaignFlowListResponseDTO{
		TotalCount: totalCount,
		Items:      items,
		Offset:     int64(finalOffset),
		Limit:      int64(finalLimit),
	}, nil
}

func (s *AssignmentService) loadCampaign(ctx context.Context, campaignID uuid.UUID, companyID string) (*model.Campaign, error) {
	var campaign model.Campaign
	if err := s.db.WithContext(ctx).Where("id = ?", campaignID).First(&campaign).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: campaign %s", ErrNotFound, campaignID)
		}
		return nil, fmt.Errorf("%w: failed to load campaign %s: %w", ErrInternal, campaignID, err)
	}
	if campaign.CompanyID != companyID {
		return nil, fmt.Errorf("%w: campaign %s belongs to another company", ErrForbidden, campaignID)
	}
	return &campaign, nil
}

// loadAssignment reads an assignment through db, which may be a transaction, and checks that it
// belongs to campaignID.
func (s *AssignmentService) loadAssignment(ctx context.Context, db *gorm.DB, campaignID, assignmentID uuid.UUID) (*model.CampaignFlow, error) {
	var assignment model.CampaignFlow
	if err := db.WithContext(ctx).Where("id = ?", assignmentID).First(&assignment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: campaign flow %s", ErrNotFound, assignmentID)
		}
		return nil, fmt.Errorf("%w: failed to load campaign flow %s: %w", ErrInternal, assignmentID, err)
	}
	if assignment.CampaignID != campaignID {
		return nil, fmt.Errorf("%w: campaign flow %s does not belong to campaign %s", ErrIntegrity, assignmentID, campaignID)
	}
	return &assignment, nil
}

func lockCampaignInTx(tx *gorm.DB, campaignID uuid.UUID) error {
	var campaign model.Campaign
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", campaignID).First(&campaign).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: campaign %s", ErrNotFound, campaignID)
		}
		return fmt.Errorf("%w: failed to lock campaign %s: %w", ErrInternal, campaignID, err)
	}
	return nil
}

func buildCampaignFlowResponseDTO(a model.CampaignFlow) model.CampaignFlowResponseDTO {
	dto := model.CampaignFlowResponseDTO{
		ID:          a.ID,
		CampaignID:  a.CampaignID,
		FlowChainID: a.FlowChainID,
		IsDefault:   a.IsDefault,
	}
	if a.FlowChain != nil {
		dto.FlowChainName = a.FlowChain.Name
	}
	return dto
}
