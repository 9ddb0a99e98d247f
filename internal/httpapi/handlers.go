package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/campaign"
	"dialer-platform/internal/dialer"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Campaigns *campaign.Service
	Dialer    *dialer.Worker
	Audit     *audit.Service
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues an operator access token.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	tok, err := h.Auth.Issue(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

// --- Campaigns ---

type createCampaignRequest struct {
	Name     string `json:"name"`
	Country  string `json:"country"`
	Priority int    `json:"priority"`
}

func (h Handlers) CreateCampaign(c *gin.Context) {
	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	created, err := h.Campaigns.Create(c.Request.Context(), req.Name, req.Country, req.Priority)
	if err != nil {
		abortCampaignErr(c, err)
		return
	}
	h.logAction(c, audit.EventTypeCampaignCreate, created.ID, "campaign created")
	c.JSON(http.StatusCreated, created)
}

func (h Handlers) ListCampaigns(c *gin.Context) {
	out, err := h.Campaigns.List(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaign list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": out})
}

func (h Handlers) GetCampaign(c *gin.Context) {
	out, err := h.Campaigns.Get(c.Request.Context(), c.Param("campaign_id"))
	if err != nil {
		abortCampaignErr(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// GetCampaignSummary aggregates terminal dispositions over ?from=&to= (RFC 3339).
func (h Handlers) GetCampaignSummary(c *gin.Context) {
	from, err1 := time.Parse(time.RFC3339, c.Query("from"))
	to, err2 := time.Parse(time.RFC3339, c.Query("to"))
	if err1 != nil || err2 != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to must be RFC 3339 timestamps"})
		return
	}
	out, err := h.Campaigns.Summary(c.Request.Context(), campaign.SummaryRequest{
		CampaignID: c.Param("campaign_id"),
		Range:      campaign.TimeRange{From: from, To: to},
	})
	if err != nil {
		abortCampaignErr(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Dialer control ---

type enqueueRequest struct {
	Requests []struct {
		Destination string `json:"destination"`
		Country     string `json:"country"`
		Priority    int    `json:"priority"`
	} `json:"requests"`
}

// Enqueue adds call requests to a campaign's backlog. Country and priority
// default from the campaign when omitted.
func (h Handlers) Enqueue(c *gin.Context) {
	campaignID := c.Param("campaign_id")
	camp, err := h.Campaigns.Get(c.Request.Context(), campaignID)
	if err != nil {
		abortCampaignErr(c, err)
		return
	}
	if camp.Status == campaign.StatusCompleted {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "campaign completed"})
		return
	}

	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(req.Requests) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "requests required"})
		return
	}

	accepted := 0
	for _, r := range req.Requests {
		country := r.Country
		if country == "" {
			country = camp.Country
		}
		priority := r.Priority
		if priority == 0 {
			priority = camp.Priority
		}
		err := h.Dialer.Enqueue(c.Request.Context(), dialer.CallRequest{
			Destination: r.Destination,
			Country:     country,
			CampaignID:  campaignID,
			Priority:    priority,
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":    "invalid destination",
				"number":   r.Destination,
				"accepted": accepted,
			})
			return
		}
		accepted++
	}

	h.logAction(c, audit.EventTypeEnqueue, campaignID, fmt.Sprintf("%d requests enqueued", accepted))
	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
}

type pauseRequest struct {
	Mode string `json:"mode"`
}

func (h Handlers) PauseCampaign(c *gin.Context) {
	campaignID := c.Param("campaign_id")

	var req pauseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	mode := dialer.PauseMode(req.Mode)
	if mode == "" {
		mode = dialer.PauseGraceful
	}

	if err := h.Campaigns.SetStatus(c.Request.Context(), campaignID, campaign.StatusPaused); err != nil {
		abortCampaignErr(c, err)
		return
	}
	if err := h.Dialer.Pause(c.Request.Context(), campaignID, mode); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid pause mode"})
		return
	}
	h.logAction(c, audit.EventTypeCampaignPause, campaignID, "pause "+string(mode))
	c.JSON(http.StatusOK, gin.H{"status": "paused", "mode": mode})
}

func (h Handlers) ResumeCampaign(c *gin.Context) {
	campaignID := c.Param("campaign_id")

	if err := h.Campaigns.SetStatus(c.Request.Context(), campaignID, campaign.StatusActive); err != nil {
		abortCampaignErr(c, err)
		return
	}
	if err := h.Dialer.Resume(c.Request.Context(), campaignID); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid campaign"})
		return
	}
	h.logAction(c, audit.EventTypeCampaignResume, campaignID, "resume")
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

type cpsOverrideRequest struct {
	// CPS pins the pacing rate; null clears the override.
	CPS *float64 `json:"cps"`
}

func (h Handlers) SetCpsOverride(c *gin.Context) {
	var req cpsOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.CPS != nil && *req.CPS <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "cps must be positive"})
		return
	}

	h.Dialer.SetCpsOverride(req.CPS)

	meta := `{"cleared":true}`
	if req.CPS != nil {
		meta = fmt.Sprintf(`{"cps":%g}`, *req.CPS)
	}
	if h.Audit != nil {
		userID, _ := auth.UserID(c.Request.Context())
		role, _ := auth.Role(c.Request.Context())
		_ = h.Audit.LogCpsOverride(c.Request.Context(), userID, role, c.ClientIP(), meta)
	}
	c.JSON(http.StatusOK, h.Dialer.Status())
}

func (h Handlers) GetDialerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Dialer.Status())
}

// --- helpers ---

// logAction records an operator action; audit is best-effort and never fails
// the request.
func (h Handlers) logAction(c *gin.Context, typ audit.EventType, campaignID, message string) {
	if h.Audit == nil {
		return
	}
	userID, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	_ = h.Audit.LogCampaignAction(c.Request.Context(), typ, userID, role, c.ClientIP(), campaignID, message)
}

func abortCampaignErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
	case errors.Is(err, campaign.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaign operation failed"})
	}
}
