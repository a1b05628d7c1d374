package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/campaignops/flowengine/internal/events"
	"github.com/campaignops/flowengine/internal/metrics"
	"github.com/campaignops/flowengine/internal/snapshots"
	"github.com/campaignops/flowengine/internal/workflow/router"
	"github.com/campaignops/flowengine/internal/workflow/service"
)

// Options configures a Manager. Nil collaborators disable the corresponding side effect.
type Options struct {
	RejectCycles  bool
	ExposeDetails bool // Include internal error details in API responses
	Snapshots     *snapshots.Service
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Manager coordinates the flow definition services, their HTTP routers and the post-commit
// side effects (domain events, snapshots, metrics).
type Manager struct {
	chainService       *service.ChainService
	assignmentService  *service.AssignmentService
	flowChainRouter    *router.FlowChainRouter
	campaignFlowRouter *router.CampaignFlowRouter
	bus                *events.Bus
	snapshots          *snapshots.Service
	metrics            *metrics.Metrics
	ctx                context.Context
	cancel             context.CancelFunc
	done               chan struct{}
}

// NewManager wires services and routers over db.
func NewManager(db *gorm.DB, opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bus, err := events.NewBus(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	// Initialize services
	builder := service.NewGraphBuilder(service.NewRoleGrantWriter())
	chainService := service.NewChainService(db, builder, service.NewTransitionWirer(), opts.RejectCycles)
	assignmentService := service.NewAssignmentService(db)

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		chainService:      chainService,
		assignmentService: assignmentService,
		bus:               bus,
		snapshots:         opts.Snapshots,
		metrics:           opts.Metrics,
		ctx:               ctx,
		cancel:            cancel,
	}

	chainService.SetPostReplaceCallback(m.onChainReplaced)
	assignmentService.SetChangeCallback(m.onAssignmentChanged)

	// Every topic gets an audit trail.
	audit := events.AuditHandler(logger)
	for _, topic := range []string{
		events.TopicFlowChainReplaced,
		events.TopicCampaignFlowAttached,
		events.TopicCampaignFlowDetached,
		events.TopicCampaignFlowDefaultChanged,
	} {
		bus.AddHandler("audit."+topic, topic, audit)
	}

	// Initialize routers
	m.flowChainRouter = router.NewFlowChainRouter(chainService, opts.Snapshots, opts.ExposeDetails)
	m.campaignFlowRouter = router.NewCampaignFlowRouter(assignmentService, opts.ExposeDetails)

	return m, nil
}

// ChainService returns the flow chain service, e.g. for the apply command.
func (m *Manager) ChainService() *service.ChainService {
	return m.chainService
}

// Bus returns the domain event bus for additional subscribers.
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

// RegisterRoutes mounts all flow definition handlers on rg.
func (m *Manager) RegisterRoutes(rg *gin.RouterGroup) {
	m.flowChainRouter.Register(rg)
	m.campaignFlowRouter.Register(rg)
}

// Start runs the event bus in the background and waits until its handlers are subscribed.
func (m *Manager) Start() {
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		if err := m.bus.Run(m.ctx); err != nil {
			slog.Error("event bus stopped with error", "error", err)
		}
	}()
	<-m.bus.Running()
	slog.Info("event bus started")
}

// Stop shuts the event bus down.
func (m *Manager) Stop() error {
	m.cancel()
	err := m.bus.Close()
	if m.done != nil {
		<-m.done
	}
	return err
}

// onChainReplaced runs after a replacement commits. Failures are logged and counted, never returned.
func (m *Manager) onChainReplaced(ctx context.Context, rc service.ReplacedChain) {
	ctx = context.WithoutCancel(ctx)
	m.metrics.RecordReplacement(rc.Report)

	payload := events.FlowChainReplaced{
		ChainID:                    rc.ChainID,
		Revision:                   rc.Revision,
		StagesCreated:              rc.Report.StagesCreated,
		StepsCreated:               rc.Report.StepsCreated,
		RoleGrantsCreated:          rc.Report.RoleGrantsCreated,
		StepTransitionsCreated:     rc.Report.StepTransitionsCreated,
		StageTransitionsCreated:    rc.Report.StageTransitionsCreated,
		UnresolvedStepTransitions:  rc.Report.UnresolvedStepTransitions,
		UnresolvedStageTransitions: rc.Report.UnresolvedStageTransitions,
	}
	if err := m.bus.Publish(ctx, events.TopicFlowChainReplaced, rc.CompanyID, payload); err != nil {
		slog.Error("failed to publish flow chain event", "chain_id", rc.ChainID, "error", err)
	}

	if m.snapshots == nil {
		return
	}
	_, err := m.snapshots.Archive(ctx, snapshots.Snapshot{
		ChainID:    rc.ChainID,
		CompanyID:  rc.CompanyID,
		Revision:   rc.Revision,
		Definition: rc.Definition,
		Report:     rc.Report,
	})
	if err != nil {
		m.metrics.RecordSnapshotFailure()
		slog.Error("failed to archive flow chain snapshot",
			"chain_id", rc.ChainID,
			"revision", rc.Revision,
			"error", err)
	}
}

func (m *Manager) onAssignmentChanged(ctx context.Context, change service.AssignmentChange) {
	ctx = context.WithoutCancel(ctx)
	m.metrics.RecordAssignmentChange(string(change.Kind), change.PromotedAssignmentID != nil)

	topic, err := assignmentTopic(change.Kind)
	if err != nil {
		slog.Error("unroutable assignment change", "assignment_id", change.Assignment.ID, "error", err)
		return
	}

	payload := events.CampaignFlowChanged{
		CampaignID:           change.Assignment.CampaignID,
		AssignmentID:         change.Assignment.ID,
		FlowChainID:          change.Assignment.FlowChainID,
		IsDefault:            change.Assignment.IsDefault,
		PromotedAssignmentID: change.PromotedAssignmentID,
	}
	if err := m.bus.Publish(ctx, topic, change.CompanyID, payload); err != nil {
		slog.Error("failed to publish campaign flow event",
			"assignment_id", change.Assignment.ID,
			"kind", change.Kind,
			"error", err)
	}
}

var errUnknownChangeKind = errors.New("unknown assignment change kind")

// assignmentTopic maps an assignment change to the topic it is published on.
func assignmentTopic(kind service.AssignmentChangeKind) (string, error) {
	switch kind {
	case service.AssignmentAttached:
		return events.TopicCampaignFlowAttached, nil
	case service.AssignmentDetached:
		return events.TopicCampaignFlowDetached, nil
	case service.AssignmentDefaultChanged:
		return events.TopicCampaignFlowDefaultChanged, nil
	default:
		return "", fmt.Errorf("%w: %s", errUnknownChangeKind, kind)
	}
}
