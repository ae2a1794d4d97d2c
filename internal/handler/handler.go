package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"giftledger/internal/service"
	"giftledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Handler exposes the gift card and commission services over HTTP.
type Handler struct {
	giftCards   *service.GiftCardService
	commissions *service.CommissionService
	logger      *zap.Logger
}

func NewHandler(giftCards *service.GiftCardService, commissions *service.CommissionService, logger *zap.Logger) *Handler {
	return &Handler{
		giftCards:   giftCards,
		commissions: commissions,
		logger:      logger.Named("handler"),
	}
}

// ============================================================
// Gift cards
// ============================================================

type CreateGiftCardRequest struct {
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	IssuedToEmail string          `json:"issuedToEmail" binding:"omitempty,email"`
	IssuedToName  string          `json:"issuedToName" binding:"max=128"`
	ExpiresAt     *time.Time      `json:"expiresAt"`
	Message       string          `json:"message" binding:"max=512"`
}

// CreateGiftCard POST /api/v1/gift-cards
func (h *Handler) CreateGiftCard(c *gin.Context) {
	var req CreateGiftCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	card, err := h.giftCards.Create(c.Request.Context(), service.CreateGiftCardInput{
		PurchaserID:   currentActor(c).UserID,
		Type:          req.Type,
		Amount:        req.Amount,
		Currency:      req.Currency,
		IssuedToEmail: req.IssuedToEmail,
		IssuedToName:  req.IssuedToName,
		ExpiresAt:     req.ExpiresAt,
		Message:       req.Message,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, card)
}

// ValidateGiftCard GET /api/v1/gift-cards/validate/:code
func (h *Handler) ValidateGiftCard(c *gin.Context) {
	res, err := h.giftCards.Validate(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, res)
}

type RedeemRequest struct {
	Code    string          `json:"code" binding:"required"`
	Amount  decimal.Decimal `json:"amount"`
	OrderID *string         `json:"orderId"`
}

// RedeemGiftCard POST /api/v1/gift-cards/redeem
func (h *Handler) RedeemGiftCard(c *gin.Context) {
	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	card, err := h.giftCards.Redeem(c.Request.Context(), currentActor(c).UserID, req.Code, req.Amount, req.OrderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, card)
}

// MyGiftCards GET /api/v1/gift-cards/my-gift-cards
func (h *Handler) MyGiftCards(c *gin.Context) {
	cards, err := h.giftCards.ListForUser(c.Request.Context(), currentActor(c).UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, cards)
}

// GiftCardTransactions GET /api/v1/gift-cards/:id/transactions
func (h *Handler) GiftCardTransactions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	transactions, err := h.giftCards.ListTransactions(c.Request.Context(), id, currentActor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, transactions)
}

type RefundRequest struct {
	OrderID string          `json:"orderId" binding:"required"`
	Amount  decimal.Decimal `json:"amount"`
}

// RefundGiftCard POST /api/v1/gift-cards/:id/refund
func (h *Handler) RefundGiftCard(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	card, err := h.giftCards.Refund(c.Request.Context(), id, req.OrderID, req.Amount, currentActor(c).UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, card)
}

// DisableGiftCard POST /api/v1/gift-cards/:id/disable
func (h *Handler) DisableGiftCard(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	card, err := h.giftCards.Disable(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, card)
}

// ============================================================
// Commissions
// ============================================================

// AccrueCommission POST /api/v1/commissions/:id/accrue, where :id is the
// order id.
func (h *Handler) AccrueCommission(c *gin.Context) {
	record, err := h.commissions.Accrue(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, record)
}

// ApproveCommission POST /api/v1/commissions/:id/approve
func (h *Handler) ApproveCommission(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	record, err := h.commissions.Approve(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, record)
}

type UpdateCommissionStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Notes  string `json:"notes" binding:"max=512"`
}

// UpdateCommissionStatus POST /api/v1/commissions/:id/status
func (h *Handler) UpdateCommissionStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req UpdateCommissionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	record, err := h.commissions.UpdateStatus(c.Request.Context(), id, req.Status, req.Notes)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, record)
}

// MyCommissions GET /api/v1/commissions/mine?status=&limit=
func (h *Handler) MyCommissions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.ParamError(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	mine, err := h.commissions.ListMine(c.Request.Context(), currentActor(c).UserID, c.Query("status"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, mine)
}

// ============================================================
// Rate administration
// ============================================================

type SaveInfluencerRequest struct {
	UserID   string          `json:"userId" binding:"required"`
	BaseRate decimal.Decimal `json:"baseRate"`
	Status   string          `json:"status"`
}

// SaveInfluencer POST /api/v1/influencers
func (h *Handler) SaveInfluencer(c *gin.Context) {
	var req SaveInfluencerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	inf, err := h.commissions.SaveInfluencer(c.Request.Context(), service.InfluencerInput{
		UserID:   req.UserID,
		BaseRate: req.BaseRate,
		Status:   req.Status,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, inf)
}

type SetCategoryRateRequest struct {
	Rate   decimal.Decimal `json:"rate"`
	Active *bool           `json:"active"`
}

// SetCategoryRate PUT /api/v1/commission-rates/:category
func (h *Handler) SetCategoryRate(c *gin.Context) {
	var req SetCategoryRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	active := req.Active == nil || *req.Active

	rate, err := h.commissions.SetCategoryRate(c.Request.Context(), c.Param("category"), req.Rate, active)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, rate)
}

type CreateCampaignRequest struct {
	InfluencerID int64           `json:"influencerId,string" binding:"required"`
	Category     string          `json:"category" binding:"required"`
	Rate         decimal.Decimal `json:"rate"`
	StartsAt     time.Time       `json:"startsAt" binding:"required"`
	EndsAt       *time.Time      `json:"endsAt"`
}

// CreateCampaign POST /api/v1/campaigns
func (h *Handler) CreateCampaign(c *gin.Context) {
	var req CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	campaign, err := h.commissions.CreateCampaign(c.Request.Context(), service.CampaignInput{
		InfluencerID: req.InfluencerID,
		Category:     req.Category,
		Rate:         req.Rate,
		StartsAt:     req.StartsAt,
		EndsAt:       req.EndsAt,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, campaign)
}

// ============================================================
// Helpers
// ============================================================

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "invalid id")
		return 0, false
	}
	return id, true
}

// writeError maps service errors onto HTTP statuses. Only 5xx responses are
// logged; their cause is not exposed to the client.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case service.IsClientError(err):
		response.Error(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrForbidden):
		response.Error(c, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.Error(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrConcurrentModification):
		response.Error(c, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		_ = c.Error(err)
		response.ServerError(c)
	}
}
