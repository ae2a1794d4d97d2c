package handler

import (
	"net/http"

	"giftledger/internal/config"
	"giftledger/internal/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter wires middleware and routes.
func SetupRouter(h *Handler, cfg *config.Config, logger *zap.Logger) *gin.Engine {
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		giftCards := api.Group("/gift-cards")
		{
			giftCards.GET("/validate/:code", h.ValidateGiftCard)

			authed := giftCards.Group("", AuthMiddleware(cfg.Auth))
			authed.POST("", RequireCapability(model.CapGiftCardIssue), h.CreateGiftCard)
			authed.POST("/redeem", RequireCapability(model.CapGiftCardRedeem), h.RedeemGiftCard)
			authed.GET("/my-gift-cards", h.MyGiftCards)
			authed.GET("/:id/transactions", h.GiftCardTransactions)
			authed.POST("/:id/refund", RequireCapability(model.CapGiftCardRefund), h.RefundGiftCard)
			authed.POST("/:id/disable", RequireCapability(model.CapGiftCardManage), h.DisableGiftCard)
		}

		commissions := api.Group("/commissions", AuthMiddleware(cfg.Auth))
		{
			commissions.GET("/mine", RequireCapability(model.CapCommissionViewOwn), h.MyCommissions)
			commissions.POST("/:id/accrue", RequireCapability(model.CapCommissionAccrue), h.AccrueCommission)
			commissions.POST("/:id/approve", RequireCapability(model.CapCommissionManage), h.ApproveCommission)
			commissions.POST("/:id/status", RequireCapability(model.CapCommissionManage), h.UpdateCommissionStatus)
		}

		admin := api.Group("", AuthMiddleware(cfg.Auth), RequireCapability(model.CapCommissionManage))
		{
			admin.POST("/influencers", h.SaveInfluencer)
			admin.PUT("/commission-rates/:category", h.SetCategoryRate)
			admin.POST("/campaigns", h.CreateCampaign)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
