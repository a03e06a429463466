package httpserver

import (
	"net/http"

	"commerce-checkout/internal/domain"
	checkoutsvc "commerce-checkout/internal/service/checkout"

	"github.com/gin-gonic/gin"
)

type pricingResponse struct {
	CartID          string                `json:"cartId"`
	Snapshot        *domain.PricingResult `json:"snapshot"`
	Verified        bool                  `json:"verified"`
	Expired         bool                  `json:"expired"`
	RequiresReprice bool                  `json:"requiresReprice"`
}

type quantityRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

type checkoutRequest struct {
	UserID             *string `json:"userId"`
	TTLMinutes         int     `json:"ttlMinutes"`
	ExpectedTotalCents int64   `json:"expectedTotalCents"`
}

func (h *handlers) repriceCart(c *gin.Context) {
	ctx := c.Request.Context()
	cart, err := h.deps.CartSvc.Get(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	result, err := h.deps.PricingSvc.RepriceAndStore(ctx, cart, domain.TriggerManual)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) cartPricing(c *gin.Context) {
	cart, err := h.deps.CartSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	if cart.PricingSnapshot == nil {
		c.JSON(http.StatusNotFound, errorBody{Error: "not_found", Message: "cart has not been priced"})
		return
	}
	c.JSON(http.StatusOK, pricingResponse{
		CartID:          cart.ID,
		Snapshot:        cart.PricingSnapshot,
		Verified:        h.deps.IntegritySvc.VerifyPriceHash(cart),
		Expired:         h.deps.IntegritySvc.CheckPriceExpiration(cart),
		RequiresReprice: cart.RequiresReprice,
	})
}

func (h *handlers) changeQuantity(c *gin.Context) {
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "quantity required")
		return
	}
	cart, err := h.deps.CartSvc.ChangeQuantity(c.Request.Context(), c.Param("id"), c.Param("lineId"), *req.Quantity)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *handlers) startCheckout(c *gin.Context) {
	var req checkoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid checkout request")
			return
		}
	}
	lock, err := h.deps.CheckoutSvc.Start(c.Request.Context(), checkoutsvc.StartInput{
		CartID:             c.Param("id"),
		UserID:             req.UserID,
		TTLMinutes:         req.TTLMinutes,
		ExpectedTotalCents: req.ExpectedTotalCents,
	})
	if err != nil {
		h.writeError(c, err, lock)
		return
	}
	c.JSON(http.StatusCreated, lock)
}
