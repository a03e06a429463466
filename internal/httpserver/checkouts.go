package httpserver

import (
	"net/http"
	"strings"

	"commerce-checkout/internal/pricingcache"

	"github.com/gin-gonic/gin"
)

type resumeRequest struct {
	ExpectedTotalCents int64 `json:"expectedTotalCents"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type invalidateRequest struct {
	Type string `json:"type"`
	Tag  string `json:"tag"`
}

func (h *handlers) getCheckout(c *gin.Context) {
	lock, err := h.deps.CheckoutSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, lock)
}

func (h *handlers) resumeCheckout(c *gin.Context) {
	var req resumeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid resume request")
			return
		}
	}
	lock, err := h.deps.CheckoutSvc.Resume(c.Request.Context(), c.Param("id"), req.ExpectedTotalCents)
	if err != nil {
		h.writeError(c, err, lock)
		return
	}
	c.JSON(http.StatusOK, lock)
}

func (h *handlers) cancelCheckout(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid cancel request")
			return
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "cancelled by client"
	}
	lock, err := h.deps.CheckoutSvc.Release(c.Request.Context(), c.Param("id"), reason)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, lock)
}

func (h *handlers) invalidateCache(c *gin.Context) {
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid invalidation request")
		return
	}
	ctx := c.Request.Context()
	switch {
	case req.Type != "" && req.Tag != "":
		badRequest(c, "set either type or tag")
	case req.Type != "":
		t := pricingcache.Type(req.Type)
		if !t.Valid() {
			badRequest(c, "unknown cache type")
			return
		}
		version, err := h.deps.CacheAdmin.InvalidateByVersion(ctx, t)
		if err != nil {
			h.writeError(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"type": req.Type, "version": version})
	case req.Tag != "":
		if !pricingcache.ValidTag(req.Tag) {
			badRequest(c, "unknown cache tag")
			return
		}
		if err := h.deps.CacheAdmin.InvalidateByTag(ctx, req.Tag); err != nil {
			h.writeError(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tag": req.Tag})
	default:
		badRequest(c, "type or tag required")
	}
}
