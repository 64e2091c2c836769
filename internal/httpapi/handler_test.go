package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"viewexchange-engine/pkg/config"
	"viewexchange-engine/pkg/event"
	"viewexchange-engine/pkg/health"
	"viewexchange-engine/services/account"
	"viewexchange-engine/services/campaign"
	"viewexchange-engine/services/jobpool"
	"viewexchange-engine/services/ledger"
	"viewexchange-engine/services/report"
	"viewexchange-engine/services/testutil"
	"viewexchange-engine/services/verify"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopEnqueuer struct{}

func (nopEnqueuer) Enqueue(*asynq.Task, ...asynq.Option) (*asynq.TaskInfo, error) {
	return &asynq.TaskInfo{}, nil
}

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewTestDB(t,
		&account.Account{},
		&ledger.Entry{}, &ledger.Balance{},
		&campaign.Campaign{},
		&jobpool.Job{}, &jobpool.WatchReceipt{},
		&report.Report{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Engine.MinWatchSeconds = 10
	cfg.Engine.MaxWatchSeconds = 600
	cfg.Engine.BoostUnitCost = 50
	cfg.Engine.ReportThreshold = 3
	cfg.Engine.WelcomeGrant = 100
	cfg.Engine.ReferralBonus = 25
	cfg.Engine.MinVisibleRatio = 0.5
	cfg.Engine.ListDefaultLimit = 25

	ledgerSvc := ledger.NewService(ledger.ServiceParams{
		DB: db, Node: node, Publisher: event.Nop{},
	})
	accounts := account.NewService(account.ServiceParams{
		DB: db, Node: node, Config: cfg, Ledger: ledgerSvc, Publisher: event.Nop{},
	})
	pool := jobpool.NewPool(jobpool.PoolParams{
		DB: db, Node: node, Seq: &testutil.FakeSequence{}, Config: cfg,
		Ledger: ledgerSvc, Verifier: verify.NewPolicy(cfg), Publisher: event.Nop{},
	})
	campaigns := campaign.NewService(campaign.ServiceParams{
		DB: db, Node: node, Seq: &testutil.FakeSequence{}, Config: cfg,
		Ledger: ledgerSvc, Jobs: pool, Expirer: pool, Publisher: event.Nop{},
	})
	reports := report.NewService(report.ServiceParams{
		DB: db, Node: node, Config: cfg, Campaigns: campaigns, Enqueuer: nopEnqueuer{},
	})

	h := NewHandler(HandlerParams{
		Accounts:  accounts,
		Ledger:    ledgerSvc,
		Campaigns: campaigns,
		Pool:      pool,
		Reports:   reports,
	})

	return ProvideEngine(h, health.ProvideHealth(health.HealthParams{}))
}

func doJSON(t *testing.T, e *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAccountLifecycle(t *testing.T) {
	e := newTestEngine(t)

	w := doJSON(t, e, http.MethodPost, "/v1/accounts", gin.H{})
	require.Equal(t, http.StatusCreated, w.Code)
	accountID, _ := decode(t, w)["ID"].(string)
	require.NotEmpty(t, accountID)

	w = doJSON(t, e, http.MethodGet, "/v1/accounts/"+accountID+"/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 100, decode(t, w)["balance"])

	w = doJSON(t, e, http.MethodGet, "/v1/accounts/"+accountID+"/ledger", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, e, http.MethodGet, "/v1/accounts/ghost/balance", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCampaignAndJobFlow(t *testing.T) {
	e := newTestEngine(t)

	w := doJSON(t, e, http.MethodPost, "/v1/accounts", gin.H{})
	require.Equal(t, http.StatusCreated, w.Code)
	owner, _ := decode(t, w)["ID"].(string)

	w = doJSON(t, e, http.MethodPost, "/v1/accounts", gin.H{})
	require.Equal(t, http.StatusCreated, w.Code)
	viewer, _ := decode(t, w)["ID"].(string)

	// 10s x 10 views = the full welcome grant.
	w = doJSON(t, e, http.MethodPost, "/v1/campaigns", gin.H{
		"owner_id":               owner,
		"media_ref":              "yt:abc123",
		"required_watch_seconds": 10,
		"requested_views":        10,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	campaignID, _ := decode(t, w)["ID"].(string)
	require.NotEmpty(t, campaignID)

	w = doJSON(t, e, http.MethodGet, "/v1/campaigns?owner_id="+owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	owned, _ := decode(t, w)["campaigns"].([]any)
	assert.Len(t, owned, 1)

	w = doJSON(t, e, http.MethodGet, "/v1/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	jobs, _ := decode(t, w)["jobs"].([]any)
	require.Len(t, jobs, 10)
	jobID, _ := jobs[0].(map[string]any)["ID"].(string)
	require.NotEmpty(t, jobID)

	w = doJSON(t, e, http.MethodPost, "/v1/jobs/"+jobID+"/claim", gin.H{"viewer_id": viewer})
	require.Equal(t, http.StatusOK, w.Code)

	// Short watch fails verification with the error envelope.
	w = doJSON(t, e, http.MethodPost, "/v1/jobs/"+jobID+"/settle", gin.H{
		"viewer_id":        viewer,
		"reported_seconds": 5,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doJSON(t, e, http.MethodPost, "/v1/jobs/"+jobID+"/settle", gin.H{
		"viewer_id":        viewer,
		"reported_seconds": 10,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 10, decode(t, w)["coins_awarded"])

	w = doJSON(t, e, http.MethodGet, "/v1/accounts/"+viewer+"/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 110, decode(t, w)["balance"])
}

func TestCampaignValidationError(t *testing.T) {
	e := newTestEngine(t)

	w := doJSON(t, e, http.MethodPost, "/v1/accounts", gin.H{})
	owner, _ := decode(t, w)["ID"].(string)

	w = doJSON(t, e, http.MethodPost, "/v1/campaigns", gin.H{
		"owner_id":               owner,
		"media_ref":              "yt:abc123",
		"required_watch_seconds": 5,
		"requested_views":        1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportFlow(t *testing.T) {
	e := newTestEngine(t)

	w := doJSON(t, e, http.MethodPost, "/v1/accounts", gin.H{})
	owner, _ := decode(t, w)["ID"].(string)

	w = doJSON(t, e, http.MethodPost, "/v1/campaigns", gin.H{
		"owner_id":               owner,
		"media_ref":              "yt:abc123",
		"required_watch_seconds": 10,
		"requested_views":        10,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	campaignID, _ := decode(t, w)["ID"].(string)

	for i := 0; i < 3; i++ {
		w = doJSON(t, e, http.MethodPost, "/v1/campaigns/"+campaignID+"/reports",
			gin.H{"reporter_id": fmt.Sprintf("viewer-%d", i)})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	// Duplicate reporter is a conflict.
	w = doJSON(t, e, http.MethodPost, "/v1/campaigns/"+campaignID+"/reports",
		gin.H{"reporter_id": "viewer-0"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, e, http.MethodPost, "/v1/campaigns/"+campaignID+"/resolve",
		gin.H{"resolution": "approve"})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, e, http.MethodGet, "/v1/campaigns/"+campaignID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "active", decode(t, w)["Status"])
}

func TestLiveness(t *testing.T) {
	e := newTestEngine(t)

	w := doJSON(t, e, http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
