package router

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/campaignops/flowengine/internal/snapshots"
	"github.com/campaignops/flowengine/internal/workflow/model"
	"github.com/campaignops/flowengine/internal/workflow/service"
	"github.com/campaignops/flowengine/utils"
)

type FlowChainRouter struct {
	errorResponder
	cs        *service.ChainService
	snapshots *snapshots.Service
}

// NewFlowChainRouter creates the flow chain handlers. snaps may be nil when archiving is disabled.
func NewFlowChainRouter(cs *service.ChainService, snaps *snapshots.Service, exposeDetails bool) *FlowChainRouter {
	return &FlowChainRouter{
		errorResponder: errorResponder{exposeDetails: exposeDetails},
		cs:             cs,
		snapshots:      snaps,
	}
}

// Register mounts the handlers on rg.
func (r *FlowChainRouter) Register(rg *gin.RouterGroup) {
	rg.GET("/flowchains", r.HandleListFlowChains)
	rg.GET("/flowchains/:chainId", r.HandleGetFlowChain)
	rg.PUT("/flowchains/:chainId", r.HandleReplaceFlowChain)
	rg.GET("/flowchains/:chainId/snapshots/:revision", r.HandleGetSnapshot)
}

// HandleReplaceFlowChain handles PUT /api/v1/flowchains/:chainId
// Request body: ReplaceFlowChainDTO
// Response: FlowChainResponseDTO
func (r *FlowChainRouter) HandleReplaceFlowChain(c *gin.Context) {
	companyID, ok := callerCompany(c)
	if !ok {
		return
	}

	chainID, err := uuid.Parse(c.Param("chainId"))
	if err != nil {
		respondFail(c, http.StatusNotFound, CodeNotFound, "flow chain not found: "+err.Error())
		return
	}

	var req model.ReplaceFlowChainDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFail(c, http.StatusBadRequest, CodeValidation, "invalid request body: "+err.Error())
		return
	}

	// The body company is informational; it may not name another tenant.
	if req.CompanyID != "" && req.CompanyID != companyID {
		respondFail(c, http.StatusForbidden, CodeForbidden, "companyId does not match the authenticated company")
		return
	}

	result, err := r.cs.Replace(c.Request.Context(), chainID, companyID, &req)
	if err != nil {
		r.respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, result.Chain, replaceMessage(result.Report))
}

func replaceMessage(report model.ReplaceReport) string {
	msg := fmt.Sprintf("flow chain replaced: %d stages, %d steps, %d transitions",
		report.StagesCreated, report.StepsCreated,
		report.StepTransitionsCreated+report.StageTransitionsCreated)
	if n := report.Unresolved(); n > 0 {
		msg += fmt.Sprintf("; %d transitions skipped because their target was not found", n)
	}
	return msg
}

// HandleGetFlowChain handles GET /api/v1/flowchains/:chainId
func (r *FlowChainRouter) HandleGetFlowChain(c *gin.Context) {
	companyID, ok := callerCompany(c)
	if !ok {
		return
	}

	chainID, err := uuid.Parse(c.Param("chainId"))
	if err != nil {
		respondFail(c, http.StatusNotFound, CodeNotFound, "flow chain not found: "+err.Error())
		return
	}

	chain, err := r.cs.Get(c.Request.Context(), chainID, companyID)
	if err != nil {
		r.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, chain, "")
}

// HandleListFlowChains handles GET /api/v1/flowchains
// Query params: offset, limit
func (r *FlowChainRouter) HandleListFlowChains(c *gin.Context) {
	companyID, ok := callerCompany(c)
	if !ok {
		return
	}

	offset, limit, err := utils.ParsePaginationQuery(c.Query("offset"), c.Query("limit"))
	if err != nil {
		respondFail(c, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}

	list, err := r.cs.List(c.Request.Context(), companyID, offset, limit)
	if err != nil {
		r.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, list, "")
}

// HandleGetSnapshot handles GET /api/v1/flowchains/:chainId/snapshots/:revision
func (r *FlowChainRouter) HandleGetSnapshot(c *gin.Context) {
	companyID, ok := callerCompany(c)
	if !ok {
		return
	}
	if r.snapshots == nil {
		respondFail(c, http.StatusNotFound, CodeNotFound, "snapshots are disabled")
		return
	}

	chainID, err := uuid.Parse(c.Param("chainId"))
	if err != nil {
		respondFail(c, http.StatusNotFound, CodeNotFound, "flow chain not found: "+err.Error())
		return
	}
	revision, err := strconv.Atoi(c.Param("revision"))
	if err != nil || revision < 1 {
		respondFail(c, http.StatusBadRequest, CodeValidation, "revision must be a positive integer")
		return
	}

	if _, err := r.cs.Authorize(c.Request.Context(), chainID, companyID); err != nil {
		r.respondError(c, err)
		return
	}

	snap, err := r.snapshots.Get(c.Request.Context(), chainID, revision)
	if err != nil {
		if errors.Is(err, snapshots.ErrSnapshotNotFound) {
			respondFail(c, http.StatusNotFound, CodeNotFound, err.Error())
			return
		}
		r.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, snap, "")
}
