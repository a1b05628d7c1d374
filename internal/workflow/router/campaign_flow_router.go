package router

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/campaignops/flowengine/internal/workflow/model"
	"github.com/campaignops/flowengine/internal/workflow/service"
	"github.com/campaignops/flowengine/utils"
)

type CampaignFlowRouter struct {
	errorResponder
	as *service.AssignmentService
}

func NewCampaignFlowRouter(as *service.AssignmentService, exposeDetails bool) *CampaignFlowRouter {
	return &CampaignFlowRouter{
		errorResponder: errorResponder{exposeDetails: exposeDetails},
		as:             as,
	}
}

// Register mounts the handlers on rg.
func (r *CampaignFlowRouter) Register(rg *gin.RouterGroup) {
	flows := rg.Group("/campaigns/:campaignId/flows")
	flows.GET("", r.HandleListCampaignFlows)
	flows.POST("", r.HandleAttachFlow)
	flows.PUT("/:assignmentId/default", r.HandleSetDefaultFlow)
	flows.DELETE("/:assignmentId", r.HandleDetachFlow)
}

func parseCampaignPath(c *gin.Context, withAssignment bool) (campaignID, assignmentID uuid.UUID, ok bool) {
	campaignID, err := uuid.Parse(c.Param("campaignId"))
	if err != nil {
		respondFail(c, http.StatusNotFound, CodeNotFound, "campaign not found: "+err.Error())
		return uuid.Nil, uuid.Nil, false
	}
	if !withAssignment {
		return campaignID, uuid.Nil, true
	}
	assignmentID, err = uuid.Parse(c.Param("assignmentId"))
	if err != nil {
		respondFail(c, http.StatusNotFound, CodeNotFound, "campaign flow assignment not found: "+err.Error())
		return uuid.Nil, uuid.Nil, false
	}
	return campaignID, assignmentID, true
}

// HandleDetachFlow handles DELETE /api/v1/campaigns/:campaignId/flows/:assignmentId
// Deleting the default assignment promotes the oldest remaining one.
func (r *CampaignFlowRouter) HandleDetachFlow(c *gin.Context) {
	companyID, ok := callerCompany(c)
	if !ok {
		return
	}
	campaignID, assignmentID, ok := parseCampaignPath(c, true)
	if !ok {
		return
	}

	result, err := r.as.Detach(c.Request.Context(), campaignID, assignmentID, companyID)
	if err != nil {
		r.respondError(c, err)
		return
	}

	msg := "flow detached from campaign"
	if result.PromotedAssignmentID != nil {
		msg = fmt.Sprintf("flow detached from campaign; assignment %s is now the default", result.PromotedAssignmentID)
	}
	c.JSON(http.StatusOK, Response{Success: true, Message: msg})
}

// HandleAttachFlow handles POST /api/v1/campaigns/:campaignId/flows
// Request body: AttachFlowDTO
// Response: CampaignFlowResponseDTO
func (r *CampaignFlowRouter) HandleAttachFlow(c *gin.Context) {
	companyID, ok := callerCompany(c)
	if !ok {
		return
	}
	campaignID, _, ok := parseCampaignPath(c, false)
	if !ok {
		return
	}

	var req model.AttachFlowDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFail(c, http.StatusBadRequest, CodeValidation, "invalid request body: "+err.Error())
		return
	}

	assignment, err := r.as.Attach(c.Request.Context(), campaignID, req.FlowChainID, req.IsDefault, companyID)
	if err != nil {
		r.respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, assignment, "flow attached to campaign")
}

// HandleSetDefaultFlow handles PUT /api/v1/campaigns/:campaignId/flows/:assignmentId/default
func (r *CampaignFlowRouter) HandleSetDefaultFlow(c *gin.Context) {
	companyID, ok := callerCompany(c)
	if !ok {
		return
	}
	campaignID, assignmentID, ok := parseCampaignPath(c, true)
	if !ok {
		return
	}

	assignment, err := r.as.SetDefault(c.Request.Context(), campaignID, assignmentID, companyID)
	if err != nil {
		r.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, assignment, "default flow updated")
}

// HandleListCampaignFlows handles GET /api/v1/campaigns/:campaignId/flows
// Query params: offset, limit
func (r *CampaignFlowRouter) HandleListCampaignFlows(c *gin.Context) {
	companyID, ok := callerCompany(c)
	if !ok {
		return
	}
	campaignID, _, ok := parseCampaignPath(c, false)
	if !ok {
		return
	}

	offset, limit, err := utils.ParsePaginationQuery(c.Query("offset"), c.Query("limit"))
	if err != nil {
		respondFail(c, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}

	list, err := r.as.List(c.Request.Context(), campaignID, companyID, offset, limit)
	if err != nil {
		r.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, list, "")
}
