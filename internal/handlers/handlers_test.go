package handlers

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/crowdreach/automation/internal/config"
	"github.com/crowdreach/automation/internal/database"
	"github.com/crowdreach/automation/internal/engine"
	"github.com/crowdreach/automation/internal/mailer"
	"github.com/crowdreach/automation/internal/models"
)

var testDB *gorm.DB
var testCfg *config.Config
var router *gin.Engine

type nullProvider struct{}

func (nullProvider) Configured() bool { return false }
func (nullProvider) Send(from, to, subject, body string) (string, error) {
	return "", nil
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)

	var err error
	testDB, err = gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := database.Migrate(testDB); err != nil {
		log.Fatalf("Failed to migrate test database schema: %v", err)
	}

	testCfg = &config.Config{
		AdminEmail:       "admin@test.local",
		DefaultFromEmail: "noreply@test.local",
		SiteURL:          "https://test.local",
		ProcessToken:     "secret-token",
		BatchSize:        config.QueueBatchSize,
	}

	registry := engine.NewRegistry(testDB, testCfg)
	executor := engine.NewExecutor(testDB, registry)
	dispatcher := engine.NewDispatcher(testDB, executor)
	processor := mailer.NewProcessor(testDB, testCfg, nullProvider{})

	router = gin.Default()
	RegisterRoutes(router, NewAutomationHandlers(testCfg, dispatcher, processor))

	exitCode := m.Run()

	sqlDB, err := testDB.DB()
	if err == nil {
		sqlDB.Close()
	}
	os.Exit(exitCode)
}

func clearTables(t *testing.T) {
	t.Helper()
	for _, table := range []string{"execution_steps", "executions", "actions", "workflows", "queue_entries", "templates", "contacts", "email_logs"} {
		require.NoError(t, testDB.Exec("DELETE FROM "+table).Error)
	}
}

func doJSON(t *testing.T, method, path string, payload interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}
	w := httptest.NewRecorder()
	req, err := http.NewRequest(method, path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestDispatchRejectsMissingTriggerType(t *testing.T) {
	clearTables(t)
	w := doJSON(t, "POST", "/api/v1/automation/dispatch", map[string]interface{}{
		"contact_email": "a@test.local",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var apiErr models.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	assert.Equal(t, models.ErrorCodeValidation, apiErr.Code)

	var count int64
	testDB.Model(&models.Execution{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestDispatchRejectsBadContactID(t *testing.T) {
	clearTables(t)
	w := doJSON(t, "POST", "/api/v1/automation/dispatch", map[string]interface{}{
		"trigger_type": "on_signup",
		"contact_id":   "not-a-uuid",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var apiErr models.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	assert.Equal(t, models.ErrorCodeInvalidIDFormat, apiErr.Code)
}

func TestDispatchNoMatchReturnsZeroExecutions(t *testing.T) {
	clearTables(t)
	w := doJSON(t, "POST", "/api/v1/automation/dispatch", map[string]interface{}{
		"trigger_type": "on_signup",
	}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.DispatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Executions)
	assert.Empty(t, resp.Results)
}

func TestDispatchRunsEligibleWorkflow(t *testing.T) {
	clearTables(t)
	contact := &models.Contact{ID: uuid.New(), Email: "run@test.local", Name: "Runner"}
	require.NoError(t, testDB.Create(contact).Error)
	wf := &models.Workflow{ID: uuid.New(), Name: "tagger", Active: true, TriggerType: "on_signup"}
	require.NoError(t, testDB.Create(wf).Error)
	action := &models.Action{ID: uuid.New(), WorkflowID: wf.ID, Kind: models.ActionAddTag, Order: 1,
		Config: map[string]interface{}{"tag": "via-http"}}
	require.NoError(t, testDB.Create(action).Error)

	w := doJSON(t, "POST", "/api/v1/automation/dispatch", map[string]interface{}{
		"trigger_type": "on_signup",
		"contact_id":   contact.ID.String(),
	}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.DispatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Executions)
	assert.Equal(t, models.ExecutionCompleted, resp.Results[0].Status)

	// The execution log is readable over HTTP, in insertion order.
	stepsW := doJSON(t, "GET", "/api/v1/executions/"+resp.Results[0].ExecutionID.String()+"/steps", nil, nil)
	assert.Equal(t, http.StatusOK, stepsW.Code)
	var stepsResp struct {
		Steps []models.ExecutionStep `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(stepsW.Body.Bytes(), &stepsResp))
	require.Len(t, stepsResp.Steps, 1)
	assert.Equal(t, action.ID, stepsResp.Steps[0].ActionID)
}

func TestGetExecutionStepsUnknownExecution(t *testing.T) {
	clearTables(t)
	w := doJSON(t, "GET", "/api/v1/executions/"+uuid.New().String()+"/steps", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProcessQueueRequiresToken(t *testing.T) {
	clearTables(t)
	w := doJSON(t, "POST", "/api/v1/queue/process", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, "POST", "/api/v1/queue/process", nil, map[string]string{
		"Authorization": "Bearer wrong-token",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProcessQueueFailsBatchWithoutProvider(t *testing.T) {
	clearTables(t)
	entry := &models.QueueEntry{
		ID:             uuid.New(),
		RecipientEmail: "q@test.local",
		TemplateID:     uuid.New(),
		ScheduledAt:    time.Now().Add(-time.Minute),
		Status:         models.QueuePending,
	}
	require.NoError(t, testDB.Create(entry).Error)

	w := doJSON(t, "POST", "/api/v1/queue/process", nil, map[string]string{
		"Authorization": "Bearer secret-token",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.QueueProcessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Processed)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, mailer.ErrMsgProviderNotConfigured, resp.Results[0].Error)
}

func TestPreviewTemplate(t *testing.T) {
	clearTables(t)
	w := doJSON(t, "POST", "/api/v1/templates/preview", models.PreviewRequest{
		Subject:   "Hi {{name}}",
		Body:      "Your code: {{code}} and {{unknown}}",
		Variables: map[string]string{"name": "Ada", "code": "X1"},
	}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.PreviewResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Hi Ada", resp.Subject)
	assert.Equal(t, "Your code: X1 and {{unknown}}", resp.Body)
}

func TestPreviewTemplateEscaped(t *testing.T) {
	clearTables(t)
	w := doJSON(t, "POST", "/api/v1/templates/preview", models.PreviewRequest{
		Body:       "<p>{{name}}</p>",
		Variables:  map[string]string{"name": "<i>Ada</i>"},
		EscapeHTML: true,
	}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.PreviewResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "<p>&lt;i&gt;Ada&lt;/i&gt;</p>", resp.Body)
}
