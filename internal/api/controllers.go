package api

import (
	"errors"
	"net/http"
	"time"

	"options-core/internal/account"
	"options-core/internal/assets"
	"options-core/internal/funds"
	"options-core/internal/market"
	"options-core/internal/trade"
	"options-core/pkg/db"

	"github.com/gin-gonic/gin"
)

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "running",
		"use_mock_feed": s.Meta.UseMockFeed,
		"payout_rate":   s.Meta.PayoutRate,
		"version":       s.Meta.Version,
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) getAssets(c *gin.Context) {
	list := s.Catalog.List()
	out := make([]gin.H, 0, len(list))
	for _, a := range list {
		out = append(out, assetJSON(a))
	}
	c.JSON(http.StatusOK, gin.H{"assets": out})
}

func assetJSON(a db.Asset) gin.H {
	return gin.H{
		"id":         a.ID,
		"symbol":     a.Symbol,
		"name":       a.Name,
		"class":      a.Class,
		"pair":       a.Pair,
		"base_price": a.BasePrice,
		"payout":     a.Payout,
		"decimals":   a.Decimals,
		"is_active":  a.IsActive,
	}
}

func (s *Server) getPrice(c *gin.Context) {
	symbol := c.Param("symbol")
	quote, err := s.Prices.Quote(c.Request.Context(), symbol)
	if err != nil {
		if errors.Is(err, market.ErrUnknownSymbol) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":  "UNKNOWN_SYMBOL",
				"error": "unknown symbol",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":     quote.Symbol,
		"price":      quote.Price,
		"formatted":  market.FormatPrice(quote.Symbol, quote.Price),
		"prev_price": quote.PrevPrice,
		"change_24h": quote.Change24h,
		"updated_at": quote.UpdatedAt,
		"source":     quote.Source,
	})
}

func (s *Server) getBalance(c *gin.Context) {
	bal, err := s.Accounts.Get(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"demo": bal.Demo, "real": bal.Real})
}

func (s *Server) placeTrade(c *gin.Context) {
	var req struct {
		Symbol          string  `json:"symbol"`
		Direction       string  `json:"direction"`
		Account         string  `json:"account"`
		Amount          float64 `json:"amount"`
		DurationSeconds int     `json:"duration_seconds"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	t, err := s.Engine.Place(c.Request.Context(), trade.PlaceRequest{
		UserID:    CurrentUserID(c),
		Symbol:    req.Symbol,
		Direction: req.Direction,
		Account:   req.Account,
		Amount:    req.Amount,
		Duration:  time.Duration(req.DurationSeconds) * time.Second,
	})
	if err != nil {
		status, code := placeErrorStatus(err)
		c.JSON(status, gin.H{"code": code, "error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"trade": tradeJSON(*t, time.Now())})
}

func placeErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, trade.ErrUnknownAsset):
		return http.StatusNotFound, "UNKNOWN_ASSET"
	case errors.Is(err, trade.ErrAssetInactive):
		return http.StatusConflict, "ASSET_INACTIVE"
	case errors.Is(err, trade.ErrTradePending):
		return http.StatusConflict, "TRADE_PENDING"
	case errors.Is(err, account.ErrInsufficientBalance):
		return http.StatusConflict, "INSUFFICIENT_BALANCE"
	case errors.Is(err, trade.ErrInvalidDirection),
		errors.Is(err, trade.ErrInvalidAccount),
		errors.Is(err, trade.ErrInvalidAmount),
		errors.Is(err, trade.ErrInvalidDuration):
		return http.StatusBadRequest, "INVALID_TRADE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func tradeJSON(t db.Trade, now time.Time) gin.H {
	out := gin.H{
		"id":           t.ID,
		"symbol":       t.Symbol,
		"direction":    t.Direction,
		"account":      t.Account,
		"amount":       t.Amount,
		"entry_price":  t.EntryPrice,
		"entry_source": t.EntrySource,
		"payout":       t.Payout,
		"status":       t.Status,
		"placed_at":    t.PlacedAt,
		"expires_at":   t.ExpiresAt,
	}
	if t.Status == db.TradePending {
		out["remaining_ms"] = trade.Remaining(t, now).Milliseconds()
		out["progress"] = trade.Progress(t, now)
	} else {
		out["exit_price"] = t.ExitPrice
		out["exit_source"] = t.ExitSource
		out["profit"] = t.Profit
		out["settled_at"] = t.SettledAt
	}
	return out
}

func (s *Server) getTrades(c *gin.Context) {
	trades, err := s.DB.ListTradesByUser(c.Request.Context(), CurrentUserID(c), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	now := time.Now()
	out := make([]gin.H, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeJSON(t, now))
	}
	c.JSON(http.StatusOK, gin.H{"trades": out})
}

func (s *Server) getActiveTrades(c *gin.Context) {
	now := time.Now()
	open := s.Engine.Open(CurrentUserID(c))
	out := make([]gin.H, 0, len(open))
	for _, t := range open {
		out = append(out, tradeJSON(t, now))
	}
	c.JSON(http.StatusOK, gin.H{"trades": out})
}

func (s *Server) createTransaction(c *gin.Context) {
	var req struct {
		Kind    string  `json:"kind"`
		Account string  `json:"account"`
		Amount  float64 `json:"amount"`
		Method  string  `json:"method"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	t, err := s.Funds.Request(c.Request.Context(), CurrentUserID(c), req.Kind, req.Account, req.Amount, req.Method)
	if err != nil {
		switch {
		case errors.Is(err, funds.ErrInvalidKind),
			errors.Is(err, funds.ErrInvalidAccount),
			errors.Is(err, funds.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_TRANSACTION", "error": err.Error()})
		case errors.Is(err, account.ErrInsufficientBalance):
			c.JSON(http.StatusConflict, gin.H{"code": "INSUFFICIENT_BALANCE", "error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": transactionJSON(*t)})
}

func transactionJSON(t db.Transaction) gin.H {
	out := gin.H{
		"id":         t.ID,
		"user_id":    t.UserID,
		"kind":       t.Kind,
		"account":    t.Account,
		"amount":     t.Amount,
		"method":     t.Method,
		"status":     t.Status,
		"created_at": t.CreatedAt,
	}
	if t.Status != db.TxPending {
		out["note"] = t.Note
		out["decided_at"] = t.DecidedAt
	}
	return out
}

func (s *Server) getTransactions(c *gin.Context) {
	list, err := s.Funds.History(c.Request.Context(), CurrentUserID(c), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	out := make([]gin.H, 0, len(list))
	for _, t := range list {
		out = append(out, transactionJSON(t))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

// updateAsset applies a partial admin patch to a catalog asset.
func (s *Server) updateAsset(c *gin.Context) {
	var patch assets.Patch
	if err := c.BindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	asset, err := s.Catalog.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		if errors.Is(err, assets.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": assetJSON(*asset)})
}

func (s *Server) getPendingTransactions(c *gin.Context) {
	list, err := s.Funds.PendingQueue(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	out := make([]gin.H, 0, len(list))
	for _, t := range list {
		out = append(out, transactionJSON(t))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

func (s *Server) approveTransaction(c *gin.Context) {
	t, err := s.Funds.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondDecisionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": transactionJSON(*t)})
}

func (s *Server) rejectTransaction(c *gin.Context) {
	var req struct {
		Note string `json:"note"`
	}
	_ = c.BindJSON(&req) // note is optional

	t, err := s.Funds.Reject(c.Request.Context(), c.Param("id"), req.Note)
	if err != nil {
		s.respondDecisionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": transactionJSON(*t)})
}

func (s *Server) respondDecisionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, funds.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": err.Error()})
	case errors.Is(err, funds.ErrAlreadyDecided):
		c.JSON(http.StatusConflict, gin.H{"code": "ALREADY_DECIDED", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
	}
}
