package httpapi

import (
	"net/http"

	"viewexchange-engine/pkg/db/pagination"
	"viewexchange-engine/pkg/errutil"
	"viewexchange-engine/pkg/health"
	"viewexchange-engine/pkg/middleware"
	"viewexchange-engine/services/account"
	"viewexchange-engine/services/campaign"
	"viewexchange-engine/services/jobpool"
	"viewexchange-engine/services/ledger"
	"viewexchange-engine/services/report"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewHandler, ProvideEngine),
)

type Handler struct {
	accounts  *account.Service
	ledger    *ledger.Service
	campaigns *campaign.Service
	pool      *jobpool.Pool
	reports   *report.Service
}

type HandlerParams struct {
	fx.In
	Accounts  *account.Service
	Ledger    *ledger.Service
	Campaigns *campaign.Service
	Pool      *jobpool.Pool
	Reports   *report.Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		accounts:  p.Accounts,
		ledger:    p.Ledger,
		campaigns: p.Campaigns,
		pool:      p.Pool,
		reports:   p.Reports,
	}
}

func ProvideEngine(h *Handler, hs health.HealthService) *gin.Engine {
	e := gin.New()
	e.Use(gin.Recovery(), middleware.Error())

	e.GET("/livez", hs.Liveness)
	e.GET("/readyz", hs.Readiness)

	v1 := e.Group("/v1")
	{
		v1.POST("/accounts", h.registerAccount)
		v1.GET("/accounts/:id", h.getAccount)
		v1.GET("/accounts/:id/balance", h.getBalance)
		v1.GET("/accounts/:id/ledger", h.getLedger)
		v1.POST("/accounts/:id/adjustments", h.adjustBalance)

		v1.POST("/campaigns", h.createCampaign)
		v1.GET("/campaigns", h.listCampaigns)
		v1.GET("/campaigns/:id", h.getCampaign)
		v1.POST("/campaigns/:id/pause", h.pauseCampaign)
		v1.POST("/campaigns/:id/resume", h.resumeCampaign)
		v1.POST("/campaigns/:id/reports", h.fileReport)
		v1.POST("/campaigns/:id/resolve", h.resolveReports)

		v1.GET("/jobs", h.listJobs)
		v1.POST("/jobs/:id/claim", h.claimJob)
		v1.POST("/jobs/:id/settle", h.settleJob)
	}

	return e
}

func (h *Handler) registerAccount(c *gin.Context) {
	var req registerAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	acc, err := h.accounts.Register(c.Request.Context(), req.ReferrerID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, acc)
}

func (h *Handler) getAccount(c *gin.Context) {
	acc, err := h.accounts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, acc)
}

func (h *Handler) getBalance(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.accounts.Get(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}

	balance, err := h.ledger.BalanceOf(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": id, "balance": balance})
}

func (h *Handler) getLedger(c *gin.Context) {
	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		c.Error(errutil.BadRequest("invalid query", errutil.WithErr(err)))
		return
	}

	entries, info, err := h.ledger.History(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "page_info": info})
}

// adjustBalance is the operator escape hatch: manual credit or debit with a
// mandatory reason, recorded like any other entry.
func (h *Handler) adjustBalance(c *gin.Context) {
	var req adjustBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	entry, err := h.ledger.Append(c.Request.Context(), c.Param("id"), req.Delta,
		ledger.KindManualAdjustment, req.Reason)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) createCampaign(c *gin.Context) {
	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	cmp, err := h.campaigns.Create(c.Request.Context(), campaign.CreateCommand{
		OwnerID:              req.OwnerID,
		MediaRef:             req.MediaRef,
		RequiredWatchSeconds: req.RequiredWatchSeconds,
		RequestedViews:       req.RequestedViews,
		PriorityTier:         req.PriorityTier,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, cmp)
}

func (h *Handler) listCampaigns(c *gin.Context) {
	var q listCampaignsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.Error(errutil.BadRequest("invalid query", errutil.WithErr(err)))
		return
	}

	campaigns, err := h.campaigns.ListByOwner(c.Request.Context(), q.OwnerID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": campaigns})
}

func (h *Handler) getCampaign(c *gin.Context) {
	cmp, err := h.campaigns.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, cmp)
}

func (h *Handler) pauseCampaign(c *gin.Context) {
	if err := h.campaigns.Pause(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) resumeCampaign(c *gin.Context) {
	if err := h.campaigns.Resume(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) fileReport(c *gin.Context) {
	var req fileReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	r, err := h.reports.File(c.Request.Context(), c.Param("id"), req.ReporterID, req.Note)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *Handler) resolveReports(c *gin.Context) {
	var req resolveReportsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	if err := h.reports.Resolve(c.Request.Context(), c.Param("id"),
		report.Resolution(req.Resolution)); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listJobs(c *gin.Context) {
	var q listJobsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.Error(errutil.BadRequest("invalid query", errutil.WithErr(err)))
		return
	}

	jobs, err := h.pool.ListAvailable(c.Request.Context(), q.Limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *Handler) claimJob(c *gin.Context) {
	var req claimJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	job, err := h.pool.Claim(c.Request.Context(), c.Param("id"), req.ViewerID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) settleJob(c *gin.Context) {
	var req settleJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	result, err := h.pool.Settle(c.Request.Context(), jobpool.SettleCommand{
		JobID:           c.Param("id"),
		ViewerID:        req.ViewerID,
		ReportedSeconds: req.ReportedSeconds,
		Meta:            req.Meta,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"receipt":         result.Receipt,
		"coins_awarded":   result.CoinsAwarded,
		"viewer_balance":  result.ViewerBalance,
		"campaign_closed": result.CampaignClosed,
	})
}
