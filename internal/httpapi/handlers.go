package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"consult-platform/internal/auth"
	"consult-platform/internal/reporting"
	"consult-platform/internal/session"
	"consult-platform/internal/wallet"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Sessions *session.Service
	Wallets  *wallet.Service
	Reports  *reporting.Service
}

// --- Sessions ---

type requestSessionRequest struct {
	ProviderID string `json:"provider_id"`
	Kind       string `json:"kind"`
}

func (h Handlers) RequestSession(c *gin.Context) {
	p, ok := auth.PrincipalFromGin(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req requestSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ProviderID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "provider_id required"})
		return
	}

	out, err := h.Sessions.Request(c.Request.Context(), p.ID, req.ProviderID, session.Kind(req.Kind))
	if err != nil {
		abortSessionErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h Handlers) AcceptRequest(c *gin.Context) {
	p, ok := auth.PrincipalFromGin(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	live, creds, err := h.Sessions.Accept(c.Request.Context(), c.Param("request_id"), p.ID)
	if err != nil {
		abortSessionErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":        live,
		"room_id":        creds.RoomID,
		"provider_token": creds.ProviderToken,
	})
}

func (h Handlers) RejectRequest(c *gin.Context) {
	p, ok := auth.PrincipalFromGin(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	out, err := h.Sessions.Reject(c.Request.Context(), c.Param("request_id"), p.ID)
	if err != nil {
		abortSessionErr(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) CancelRequest(c *gin.Context) {
	p, ok := auth.PrincipalFromGin(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	out, err := h.Sessions.Cancel(c.Request.Context(), c.Param("request_id"), p.ID)
	if err != nil {
		abortSessionErr(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) EndSession(c *gin.Context) {
	p, ok := auth.PrincipalFromGin(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	out, err := h.Sessions.End(c.Request.Context(), c.Param("session_id"), p.ID)
	if err != nil {
		abortSessionErr(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Wallet ---

func (h Handlers) GetBalance(c *gin.Context) {
	p, ok := auth.PrincipalFromGin(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	bal, err := h.Wallets.Balance(c.Request.Context(), p.ID)
	if err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			// No wallet yet means nothing was ever credited.
			c.JSON(http.StatusOK, gin.H{"credits": 0})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"credits": bal})
}

func (h Handlers) GetLedger(c *gin.Context) {
	p, ok := auth.PrincipalFromGin(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = n
	}

	entries, err := h.Wallets.Ledger(c.Request.Context(), p.ID, limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ledger lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

type topupRequest struct {
	UserID  string `json:"user_id"`
	Credits int64  `json:"credits"`
}

// Topup is admin-only; payment-gateway callbacks land here after the gateway
// confirms the charge.
func (h Handlers) Topup(c *gin.Context) {
	var req topupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}

	bal, err := h.Wallets.Topup(c.Request.Context(), req.UserID, req.Credits)
	if err != nil {
		if errors.Is(err, wallet.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "topup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"credits": bal})
}

// --- Reporting ---

func (h Handlers) ProviderEarnings(c *gin.Context) {
	p, ok := auth.PrincipalFromGin(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	rng, err := parseRange(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.Reports.EarningsSummary(c.Request.Context(), reporting.EarningsSummaryRequest{
		ProviderID: p.ID,
		Range:      rng,
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) ConsumerSpend(c *gin.Context) {
	p, ok := auth.PrincipalFromGin(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	rng, err := parseRange(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.Reports.ConsumerSpend(c.Request.Context(), reporting.SpendSummaryRequest{
		ConsumerID: p.ID,
		Range:      rng,
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// parseRange reads from/to query params as RFC3339; defaults to the last 30 days.
func parseRange(c *gin.Context) (reporting.TimeRange, error) {
	now := time.Now().UTC()
	rng := reporting.TimeRange{From: now.AddDate(0, 0, -30), To: now}

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return reporting.TimeRange{}, errors.New("from must be RFC3339")
		}
		rng.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return reporting.TimeRange{}, errors.New("to must be RFC3339")
		}
		rng.To = t
	}
	return rng, nil
}

// abortSessionErr maps session service sentinels onto HTTP status codes.
func abortSessionErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, session.ErrInsufficientCredits):
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient credits"})
	case errors.Is(err, session.ErrProviderBusy):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "provider busy"})
	case errors.Is(err, session.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "request already resolved"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
