package httpapi

import "viewexchange-engine/services/verify"

type registerAccountRequest struct {
	ReferrerID string `json:"referrer_id"`
}

type createCampaignRequest struct {
	OwnerID              string `json:"owner_id" binding:"required"`
	MediaRef             string `json:"media_ref" binding:"required"`
	RequiredWatchSeconds int64  `json:"required_watch_seconds" binding:"required"`
	RequestedViews       int    `json:"requested_views" binding:"required"`
	PriorityTier         int    `json:"priority_tier"`
}

type claimJobRequest struct {
	ViewerID string `json:"viewer_id" binding:"required"`
}

type settleJobRequest struct {
	ViewerID        string             `json:"viewer_id" binding:"required"`
	ReportedSeconds int64              `json:"reported_seconds" binding:"required"`
	Meta            verify.SessionMeta `json:"session_meta"`
}

type fileReportRequest struct {
	ReporterID string `json:"reporter_id" binding:"required"`
	Note       string `json:"note"`
}

type resolveReportsRequest struct {
	Resolution string `json:"resolution" binding:"required,oneof=approve remove"`
}

type adjustBalanceRequest struct {
	Delta  int64  `json:"delta" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

type listCampaignsQuery struct {
	OwnerID string `form:"owner_id" binding:"required"`
}

type listJobsQuery struct {
	Limit int `form:"limit" binding:"omitempty,gte=1,lte=250"`
}
