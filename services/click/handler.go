package click

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"primetrack/pkg/errutil"
	"primetrack/services/antifraud"
)

// Handler exposes the tracking endpoints.
type Handler struct {
	service *Service
	fraud   *antifraud.Service
	logger  *zap.Logger
}

// HandlerParams defines dependencies for Handler construction.
type HandlerParams struct {
	fx.In

	Service *Service
	Fraud   *antifraud.Service
	Logger  *zap.Logger
}

// NewHandler constructs a new Handler instance.
func NewHandler(p HandlerParams) *Handler {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: p.Service, fraud: p.Fraud, logger: logger}
}

// RegisterRoutes attaches the tracking endpoints to the router.
func RegisterRoutes(engine *gin.Engine, h *Handler) {
	engine.GET("/click", h.HandleClick)
	engine.GET("/postback", h.HandlePostback)
}

// HandleClick processes a tracking click and always answers with a redirect.
func (h *Handler) HandleClick(c *gin.Context) {
	params := ClickParams{
		OfferID:   c.Query("offer_id"),
		PartnerID: c.Query("pid"),
		LandingID: c.Query("landing_id"),

		Sub1: c.Query("sub1"), Sub2: c.Query("sub2"), Sub3: c.Query("sub3"),
		Sub4: c.Query("sub4"), Sub5: c.Query("sub5"), Sub6: c.Query("sub6"),
		Sub7: c.Query("sub7"), Sub8: c.Query("sub8"), Sub9: c.Query("sub9"),
		Sub10: c.Query("sub10"),

		IP:        c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
		Referer:   c.GetHeader("Referer"),
		Geo:       c.Query("geo"),
		VisitorID: c.Query("visitor_id"),
	}
	if raw := c.Query("fp_confidence"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			params.FingerprintConfidence = v
		}
	}

	if params.OfferID == "" || params.PartnerID == "" {
		c.Error(errutil.BadRequest("offer_id and pid are required"))
		return
	}

	result, err := h.service.ProcessClick(c.Request.Context(), params)
	if err != nil {
		// Only the ledger write fails the request, everything else degrades.
		h.logger.Error("failed to process click", zap.Error(err))
		c.Error(errutil.Internal("failed to process click", errutil.WithErr(err)))
		return
	}

	c.Redirect(http.StatusFound, result.RedirectURL)
}

// HandlePostback records a conversion reported by the advertiser and runs
// duplicate detection over it.
func (h *Handler) HandlePostback(c *gin.Context) {
	clickID := c.Query("click_id")
	if clickID == "" {
		c.Error(errutil.BadRequest("click_id is required"))
		return
	}

	row, err := h.service.clicks.FindByClickID(c.Request.Context(), clickID)
	if err != nil {
		c.Error(errutil.NotFound("click not found", errutil.WithErr(err)))
		return
	}

	in := antifraud.ConversionInput{
		OfferID:           row.OfferID,
		AdvertiserID:      row.AdvertiserID,
		PublisherID:       row.PublisherID,
		ClickID:           row.ClickID,
		TransactionID:     c.Query("txid"),
		Email:             c.Query("email"),
		Phone:             c.Query("phone"),
		DeviceFingerprint: row.VisitorID,
	}

	dup, err := h.fraud.CheckDuplicateConversion(c.Request.Context(), in)
	if err != nil {
		c.Error(errutil.Internal("duplicate check failed", errutil.WithErr(err)))
		return
	}
	if dup.IsDuplicate {
		c.JSON(http.StatusOK, gin.H{
			"status":         "duplicate",
			"duplicate_type": dup.DuplicateType,
		})
		return
	}

	if err := h.fraud.RecordConversion(c.Request.Context(), in); err != nil {
		c.Error(errutil.Internal("failed to record conversion", errutil.WithErr(err)))
		return
	}

	events := []antifraud.StatsEvent{antifraud.StatsEventConversion}
	switch c.DefaultQuery("status", "approved") {
	case "approved":
		events = append(events, antifraud.StatsEventApproved)
	case "rejected":
		events = append(events, antifraud.StatsEventRejected)
	}
	for _, event := range events {
		if _, err := h.fraud.UpdatePublisherStats(c.Request.Context(), row.PublisherID, row.AdvertiserID, row.OfferID, event); err != nil {
			h.logger.Warn("failed to update publisher stats", zap.String("click_id", clickID), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
