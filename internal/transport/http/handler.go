package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/corepay/wallet-ledger/internal/model"
	"github.com/corepay/wallet-ledger/internal/service"
)

func RegisterHandlers(r *gin.Engine, ops service.Operations) {
	v1 := r.Group("/v1")
	{
		v1.POST("/wallets", createWalletHandler(ops))
		v1.POST("/wallets/:id/deposit", depositHandler(ops))
		v1.POST("/wallets/:id/withdraw", withdrawHandler(ops))
		v1.POST("/wallets/:id/transfer", transferHandler(ops))
		v1.GET("/wallets/:id/balance", balanceHandler(ops))
		v1.GET("/wallets/:id/history", historyHandler(ops))
	}
}

// statusFor maps the service error taxonomy onto stable HTTP signals so
// callers can tell bad input from retriable from operator-attention states.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrWalletNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrConcurrencyExhausted):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrSameWalletTransfer),
		errors.Is(err, service.ErrInvalidDateFormat):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func walletID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet id"})
		return 0, false
	}
	return id, true
}

type createWalletReq struct {
	OwnerID uint64 `json:"owner_id" binding:"required"`
}

func createWalletHandler(ops service.Operations) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createWalletReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		w, err := ops.CreateWallet(c, req.OwnerID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"wallet_id": w.ID, "owner_id": w.OwnerID, "balance": w.Balance})
	}
}

type amountReq struct {
	Amount         string `json:"amount" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

func depositHandler(ops service.Operations) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req amountReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, ok := walletID(c)
		if !ok {
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		bal, err := ops.Deposit(c, id, amt, req.IdempotencyKey)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": bal})
	}
}

func withdrawHandler(ops service.Operations) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req amountReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, ok := walletID(c)
		if !ok {
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		bal, err := ops.Withdraw(c, id, amt, req.IdempotencyKey)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": bal})
	}
}

type transferReq struct {
	ToID           uint64 `json:"to_id" binding:"required"`
	Amount         string `json:"amount" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

func transferHandler(ops service.Operations) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transferReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		fromID, ok := walletID(c)
		if !ok {
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		res, err := ops.Transfer(c, fromID, req.ToID, amt, req.IdempotencyKey)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"from_balance": res.FromBalance,
			"to_balance":   res.ToBalance,
			"replayed":     res.Replayed,
		})
	}
}

func balanceHandler(ops service.Operations) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := walletID(c)
		if !ok {
			return
		}
		bal, err := ops.GetBalance(c, id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": bal})
	}
}

func historyHandler(ops service.Operations) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := walletID(c)
		if !ok {
			return
		}
		f := service.HistoryFilter{
			Date:  c.Query("date"),
			Start: c.Query("start"),
			End:   c.Query("end"),
		}
		txs, err := ops.GetHistory(c, id, f)
		if err != nil {
			fail(c, err)
			return
		}
		if txs == nil {
			// empty history marshals as [], never null
			txs = []model.Transaction{}
		}
		c.JSON(http.StatusOK, txs)
	}
}
