package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/corepay/wallet-ledger/internal/config"
	"github.com/corepay/wallet-ledger/internal/service"
)

func NewRouter(ops service.Operations, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, ops)
	return r
}
