package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mautops/repair-gin/internal/config"
	"github.com/mautops/repair-gin/internal/container"
	"github.com/mautops/repair-gin/internal/database"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminPassword = "admin-pass-1"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiClient struct {
	t      *testing.T
	router *gin.Engine
}

func newAPIClient(t *testing.T) *apiClient {
	t.Helper()
	cfg := config.Default()
	cfg.Database = config.DatabaseConfig{Driver: "sqlite", DBName: filepath.Join(t.TempDir(), "api.db")}
	cfg.RateLimit.RPS = 0
	cfg.App.PublicBaseURL = "https://shop.example.com"

	db, err := database.Connect(cfg.Database)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	log := logrus.New()
	log.SetOutput(io.Discard)
	c, err := container.Build(cfg, db, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, created, err := c.Users().SeedAdmin(context.Background(), "admin", adminPassword)
	require.NoError(t, err)
	require.True(t, created)

	return &apiClient{t: t, router: c.Router()}
}

func (a *apiClient) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return serve(a.router, req)
}

// data 断言状态码并解出 data 字段
func (a *apiClient) data(w *httptest.ResponseRecorder, status int, out interface{}) {
	a.t.Helper()
	require.Equal(a.t, status, w.Code, w.Body.String())
	var env envelope
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &env))
	if out != nil {
		require.NoError(a.t, json.Unmarshal(env.Data, out))
	}
}

func (a *apiClient) login(username, password string) string {
	a.t.Helper()
	var result struct {
		Token string `json:"token"`
	}
	a.data(a.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": username, "password": password}), http.StatusOK, &result)
	require.NotEmpty(a.t, result.Token)
	return result.Token
}

func TestRoutes_PublicEndpoints(t *testing.T) {
	client := newAPIClient(t)

	w := client.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = client.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "api_requests_total")

	w = client.do(http.MethodGet, "/api/v1/repairs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 未匹配的路由不经过认证中间件
	w = client.do(http.MethodGet, "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = client.do(http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Route not found", decodeError(t, w).Message)

	w = client.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid username or password", decodeError(t, w).Message)

	w = client.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestRoutes_RepairLifecycle 走完新建、指派、完成、转交、公开查询的完整流程
func TestRoutes_RepairLifecycle(t *testing.T) {
	client := newAPIClient(t)
	admin := client.login("admin", adminPassword)

	var me struct {
		ID          string          `json:"id"`
		Role        string          `json:"role"`
		Permissions map[string]bool `json:"permissions"`
	}
	client.data(client.do(http.MethodGet, "/api/v1/auth/me", admin, nil), http.StatusOK, &me)
	assert.Equal(t, "admin", me.Role)

	// 部门与技术员
	var bench, qa struct {
		ID string `json:"id"`
	}
	client.data(client.do(http.MethodPost, "/api/v1/departments", admin, gin.H{"name": "Bench"}), http.StatusCreated, &bench)
	client.data(client.do(http.MethodPost, "/api/v1/departments", admin, gin.H{"name": "QA"}), http.StatusCreated, &qa)

	var tech struct {
		ID string `json:"id"`
	}
	client.data(client.do(http.MethodPost, "/api/v1/users", admin, gin.H{
		"username":   "tech1",
		"password":   "tech-pass-1",
		"role":       "technician",
		"department": bench.ID,
	}), http.StatusCreated, &tech)
	techToken := client.login("tech1", "tech-pass-1")

	// 技术员无权管理部门,也不能查看审计日志
	w := client.do(http.MethodPost, "/api/v1/departments", techToken, gin.H{"name": "Other"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = client.do(http.MethodGet, "/api/v1/audit-logs?userId="+me.ID, techToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// 新建时指定部门和技术员,直接进入维修中
	var repair struct {
		ID           string `json:"id"`
		RepairNumber int64  `json:"repairId"`
		Status       string `json:"status"`
		ActiveStage  int    `json:"activeStage"`
	}
	client.data(client.do(http.MethodPost, "/api/v1/repairs", admin, gin.H{
		"customerName":      "Alice",
		"deviceType":        "Phone",
		"issue":             "cracked screen",
		"price":             120,
		"initialDepartment": bench.ID,
		"technician":        tech.ID,
	}), http.StatusCreated, &repair)
	assert.Equal(t, int64(1), repair.RepairNumber)
	assert.Equal(t, "in-progress", repair.Status)
	assert.Equal(t, 0, repair.ActiveStage)

	base := "/api/v1/repairs/" + repair.ID

	// 当前阶段未完成时不能转交
	w = client.do(http.MethodPost, base+"/flow/move-next", admin, gin.H{"departmentId": qa.ID})
	assert.Equal(t, http.StatusConflict, w.Code)

	// 技术员完成自己的阶段,请求体可以为空
	var flow struct {
		Status      string `json:"status"`
		ActiveStage int    `json:"activeStage"`
		Flows       []struct {
			Status         string `json:"status"`
			DepartmentName string `json:"departmentName"`
		} `json:"flows"`
	}
	client.data(client.do(http.MethodPost, base+"/flow/complete", techToken, nil), http.StatusOK, &flow)
	assert.Equal(t, -1, flow.ActiveStage)
	require.Len(t, flow.Flows, 1)
	assert.Equal(t, "completed", flow.Flows[0].Status)
	assert.Equal(t, "Bench", flow.Flows[0].DepartmentName)

	client.data(client.do(http.MethodPost, base+"/flow/move-next", admin, gin.H{"departmentId": qa.ID}), http.StatusOK, &flow)
	assert.Equal(t, "pending", flow.Status)
	assert.Equal(t, 1, flow.ActiveStage)
	require.Len(t, flow.Flows, 2)
	assert.Equal(t, "QA", flow.Flows[1].DepartmentName)

	// 技术员不属于新部门,无权指派
	w = client.do(http.MethodPost, base+"/flow/assign", techToken, gin.H{"technicianId": tech.ID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	var timeline struct {
		ACL struct {
			CanAssignTech bool `json:"canAssignTech"`
		} `json:"acl"`
		Logs []json.RawMessage `json:"logs"`
	}
	client.data(client.do(http.MethodGet, base+"/timeline", admin, nil), http.StatusOK, &timeline)
	assert.True(t, timeline.ACL.CanAssignTech)
	assert.NotEmpty(t, timeline.Logs)

	// 调入新部门后可以自助领取
	var moved struct {
		Department string `json:"department"`
	}
	client.data(client.do(http.MethodPut, "/api/v1/users/"+tech.ID+"/department", admin, gin.H{"department": qa.ID}), http.StatusOK, &moved)
	assert.Equal(t, qa.ID, moved.Department)
	w = client.do(http.MethodPut, "/api/v1/users/"+tech.ID+"/department", techToken, gin.H{"department": bench.ID})
	assert.Equal(t, http.StatusForbidden, w.Code)
	client.data(client.do(http.MethodPost, base+"/flow/assign", techToken, gin.H{"technicianId": tech.ID}), http.StatusOK, &flow)
	assert.Equal(t, "in-progress", flow.Status)

	var members []struct {
		ID string `json:"id"`
	}
	client.data(client.do(http.MethodGet, "/api/v1/departments/"+qa.ID+"/technicians", admin, nil), http.StatusOK, &members)
	require.Len(t, members, 1)
	assert.Equal(t, tech.ID, members[0].ID)
	w = client.do(http.MethodGet, "/api/v1/departments/"+qa.ID+"/technicians", techToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = client.do(http.MethodGet, "/api/v1/departments/"+qa.ID+"/repairs?limit=5", techToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var deptRepairs struct {
		Data       []json.RawMessage `json:"data"`
		Pagination struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &deptRepairs))
	assert.Len(t, deptRepairs.Data, 1)
	w = client.do(http.MethodGet, "/api/v1/departments/"+bench.ID+"/repairs", techToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// 客户动态
	client.data(client.do(http.MethodPost, base+"/customer-updates", admin, gin.H{"type": "text", "text": "Waiting for parts"}), http.StatusCreated, nil)
	w = client.do(http.MethodPost, base+"/customer-updates", admin, gin.H{"type": "fax"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = client.do(http.MethodPost, base+"/customer-updates", techToken, gin.H{"type": "text", "text": "hi"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// 列表与分页
	w = client.do(http.MethodGet, "/api/v1/repairs?q=Alice&page=1&pageSize=10", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Data       []json.RawMessage `json:"data"`
		Pagination struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Data, 1)
	assert.Equal(t, int64(1), page.Pagination.Total)

	// 公开查询
	var tracking struct {
		Token string `json:"token"`
		URL   string `json:"url"`
	}
	client.data(client.do(http.MethodPost, base+"/public-tracking", admin, gin.H{"enabled": true}), http.StatusOK, &tracking)
	require.NotEmpty(t, tracking.Token)
	assert.Equal(t, "https://shop.example.com/t/"+tracking.Token, tracking.URL)

	w = client.do(http.MethodGet, "/api/public/t/"+tracking.Token, "", nil)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	var public map[string]interface{}
	client.data(w, http.StatusOK, &public)
	assert.Equal(t, float64(1), public["repairId"])
	assert.NotContains(t, public, "customerName")
	updates, ok := public["updates"].([]interface{})
	require.True(t, ok)
	assert.Len(t, updates, 1)

	w = client.do(http.MethodGet, "/api/public/t/unknown-token", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 审计日志
	var logs []struct {
		Action string `json:"action"`
	}
	client.data(client.do(http.MethodGet, "/api/v1/audit-logs?resourceType=repair&resourceId="+repair.ID, admin, nil), http.StatusOK, &logs)
	assert.NotEmpty(t, logs)

	w = client.do(http.MethodGet, "/api/v1/audit-logs", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 统计
	var byStatus []struct {
		Status string `json:"status"`
		Count  int64  `json:"count"`
	}
	client.data(client.do(http.MethodGet, "/api/v1/statistics/status", admin, nil), http.StatusOK, &byStatus)
	counts := map[string]int64{}
	for _, s := range byStatus {
		counts[s.Status] = s.Count
	}
	assert.Equal(t, int64(1), counts["in-progress"])

	// 删除
	client.data(client.do(http.MethodDelete, base, admin, nil), http.StatusOK, nil)
	w = client.do(http.MethodGet, base, admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutes_Notifications(t *testing.T) {
	client := newAPIClient(t)
	admin := client.login("admin", adminPassword)

	w := client.do(http.MethodGet, "/api/v1/notifications", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-Unread-Count"))

	client.data(client.do(http.MethodPost, "/api/v1/push/subscribe", admin, gin.H{
		"endpoint": "https://push.example.com/sub/1",
		"keys":     gin.H{"p256dh": "key", "auth": "secret"},
	}), http.StatusCreated, nil)

	w = client.do(http.MethodPost, "/api/v1/push/subscribe", admin, gin.H{"endpoint": "not a url"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	client.data(client.do(http.MethodPost, "/api/v1/push/unsubscribe", admin, gin.H{
		"endpoint": "https://push.example.com/sub/1",
	}), http.StatusOK, nil)

	var unread struct {
		Count int64 `json:"count"`
	}
	client.data(client.do(http.MethodGet, "/api/v1/notifications/unread-count", admin, nil), http.StatusOK, &unread)
	assert.Zero(t, unread.Count)

	var marked struct {
		Updated int64 `json:"updated"`
	}
	client.data(client.do(http.MethodPost, "/api/v1/notifications/read-all", admin, nil), http.StatusOK, &marked)
	assert.Equal(t, int64(0), marked.Updated)
}
