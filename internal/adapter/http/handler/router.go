package handler

import (
	"wallet-ledger/internal/adapter/http/middleware"
	redisStore "wallet-ledger/internal/adapter/storage/redis"
	"wallet-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const maxRequestBody = 1 << 20

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	WalletSvc      ports.WalletService
	TransferSvc    ports.TransferService
	TransactionSvc ports.TransactionService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(maxRequestBody))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}
	reads, writes := rl("reads"), rl("writes")

	v1 := r.Group("/api/v1")

	walletHandler := NewWalletHandler(deps.WalletSvc)
	wallets := v1.Group("/wallets")
	{
		wallets.POST("", writes, walletHandler.Create)
		wallets.GET("", reads, walletHandler.List)
		wallets.GET("/stats", reads, walletHandler.Stats)
		wallets.GET("/balance-range", reads, walletHandler.BalanceRange)
		wallets.GET("/owner/:ownerId", reads, walletHandler.GetByOwner)
		wallets.GET("/:id", reads, walletHandler.Get)
		wallets.GET("/:id/balance", reads, walletHandler.GetBalance)
		wallets.GET("/:id/reconcile", reads, walletHandler.Reconcile)
		wallets.PATCH("/:id/status", writes, walletHandler.UpdateStatus)
		wallets.POST("/:id/deposit", writes, walletHandler.Deposit)
		wallets.POST("/:id/withdraw", writes, walletHandler.Withdraw)
	}

	transferHandler := NewTransferHandler(deps.TransferSvc)
	transfers := v1.Group("/transfers")
	{
		transfers.POST("", rl("transfers"), transferHandler.Transfer)
		transfers.POST("/async", rl("transfers"), transferHandler.SubmitAsync)
		transfers.GET("/jobs/:id", reads, transferHandler.GetJob)
		transfers.GET("/queue/stats", reads, transferHandler.QueueStats)
	}

	txHandler := NewTransactionHandler(deps.TransactionSvc)
	transactions := v1.Group("/transactions", reads)
	{
		transactions.GET("", txHandler.List)
		transactions.GET("/stats", txHandler.Stats)
		transactions.GET("/failed", txHandler.Failed)
		transactions.GET("/pending", txHandler.Pending)
		transactions.GET("/date-range", txHandler.DateRange)
		transactions.GET("/owner/:ownerId", txHandler.ByOwner)
		transactions.GET("/:key", txHandler.GetByKey)
	}

	return r
}
