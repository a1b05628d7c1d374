package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/campaignops/flowengine/internal/auth"
	"github.com/campaignops/flowengine/internal/database"
	"github.com/campaignops/flowengine/internal/snapshots"
	"github.com/campaignops/flowengine/internal/snapshots/drivers"
	"github.com/campaignops/flowengine/internal/workflow/model"
	"github.com/campaignops/flowengine/internal/workflow/service"
)

const testCompanyHeader = "X-Test-Company"

type testEnv struct {
	db        *gorm.DB
	engine    *gin.Engine
	chains    *service.ChainService
	flows     *service.AssignmentService
	snapshots *snapshots.Service
}

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

// fakeAuth stands in for RequireAuth, taking the caller's company from a test header.
func fakeAuth(c *gin.Context) {
	if company := c.GetHeader(testCompanyHeader); company != "" {
		ctx := auth.WithAuthContext(c.Request.Context(), &auth.AuthContext{EmployeeID: "emp-1", CompanyID: company})
		c.Request = c.Request.WithContext(ctx)
	}
	c.Next()
}

func setupTestEnv(t *testing.T, exposeDetails bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := setupSQLiteDB(t)
	driver, err := drivers.NewLocalFSDriver(t.TempDir(), "")
	require.NoError(t, err)

	env := &testEnv{
		db:        db,
		chains:    service.NewChainService(db, service.NewGraphBuilder(service.NewRoleGrantWriter()), service.NewTransitionWirer(), false),
		flows:     service.NewAssignmentService(db),
		snapshots: snapshots.NewService(driver),
	}

	env.engine = gin.New()
	api := env.engine.Group("/api/v1", fakeAuth)
	NewFlowChainRouter(env.chains, env.snapshots, exposeDetails).Register(api)
	NewCampaignFlowRouter(env.flows, exposeDetails).Register(api)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, company string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if company != "" {
		req.Header.Set(testCompanyHeader, company)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func (e *testEnv) seedChain(t *testing.T, companyID, name string) *model.FlowChain {
	t.Helper()
	chain := &model.FlowChain{CompanyID: companyID, Name: name, Revision: 1}
	require.NoError(t, e.db.Create(chain).Error)
	return chain
}

func (e *testEnv) seedCampaign(t *testing.T, companyID string) *model.Campaign {
	t.Helper()
	campaign := &model.Campaign{CompanyID: companyID, Name: "Autumn Launch"}
	require.NoError(t, e.db.Create(campaign).Error)
	return campaign
}

func reviewDefinition() map[string]any {
	return map[string]any{
		"name":        "Review flow",
		"description": "copy review",
		"stages": []map[string]any{
			{
				"name":          "Draft",
				"order":         1,
				"executionMode": "SEQUENTIAL",
				"steps": []map[string]any{{
					"name":          "Write",
					"orderInStage":  1,
					"assignedRoles": []map[string]any{{"roleId": "copywriter", "required": true}},
					"transitions":   []map[string]any{{"toStepName": "Approve"}},
				}},
				"transitions": []map[string]any{{"toStageName": "Review"}},
			},
			{
				"name":          "Review",
				"order":         2,
				"executionMode": "PARALLEL",
				"steps": []map[string]any{{
					"name":         "Approve",
					"orderInStage": 1,
					"transitions":  []map[string]any{{"toStepName": "Publish"}},
				}},
			},
		},
	}
}
