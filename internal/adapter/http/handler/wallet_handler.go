package handler

import (
	"context"
	"strings"

	"wallet-ledger/internal/adapter/http/dto"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// WalletHandler handles wallet endpoints.
type WalletHandler struct {
	wallets ports.WalletService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(wallets ports.WalletService) *WalletHandler {
	return &WalletHandler{wallets: wallets}
}

// Create handles POST /api/v1/wallets.
func (h *WalletHandler) Create(c *gin.Context) {
	var req dto.CreateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	initial, err := req.InitialBalance.Decimal()
	if err != nil {
		response.Error(c, apperror.Validation("initial_balance must be a decimal number"))
		return
	}

	wallet, err := h.wallets.CreateWallet(c.Request.Context(), ports.CreateWalletRequest{
		OwnerID:        req.OwnerID,
		InitialBalance: initial,
		Currency:       strings.ToUpper(req.Currency),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toWalletResponse(wallet))
}

// Get handles GET /api/v1/wallets/:id.
func (h *WalletHandler) Get(c *gin.Context) {
	id, err := uuidParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	wallet, err := h.wallets.GetWallet(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toWalletResponse(wallet))
}

// GetByOwner handles GET /api/v1/wallets/owner/:ownerId.
func (h *WalletHandler) GetByOwner(c *gin.Context) {
	wallet, err := h.wallets.GetWalletByOwner(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toWalletResponse(wallet))
}

// GetBalance handles GET /api/v1/wallets/:id/balance.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	id, err := uuidParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	balance, err := h.wallets.GetBalance(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.BalanceResponse{WalletID: id.String(), Balance: domain.FormatAmount(balance)})
}

// Deposit handles POST /api/v1/wallets/:id/deposit.
func (h *WalletHandler) Deposit(c *gin.Context) {
	h.changeBalance(c, h.wallets.Deposit)
}

// Withdraw handles POST /api/v1/wallets/:id/withdraw.
func (h *WalletHandler) Withdraw(c *gin.Context) {
	h.changeBalance(c, h.wallets.Withdraw)
}

type balanceChangeFunc func(ctx context.Context, req ports.BalanceChangeRequest) (*domain.Wallet, error)

func (h *WalletHandler) changeBalance(c *gin.Context, apply balanceChangeFunc) {
	id, err := uuidParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.BalanceChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	amount, err := req.Amount.Decimal()
	if err != nil {
		response.Error(c, apperror.Validation("amount must be a decimal number"))
		return
	}

	wallet, err := apply(c.Request.Context(), ports.BalanceChangeRequest{
		WalletID:    id,
		Amount:      amount,
		Description: req.Description,
		Currency:    req.Currency,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toWalletResponse(wallet))
}

// UpdateStatus handles PATCH /api/v1/wallets/:id/status.
func (h *WalletHandler) UpdateStatus(c *gin.Context) {
	id, err := uuidParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	wallet, err := h.wallets.UpdateStatus(c.Request.Context(), id, domain.WalletStatus(req.Status))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toWalletResponse(wallet))
}

// List handles GET /api/v1/wallets.
func (h *WalletHandler) List(c *gin.Context) {
	page, pageSize := pageQuery(c)
	params := ports.WalletListParams{Page: page, PageSize: pageSize}

	if s := c.Query("status"); s != "" {
		status := domain.WalletStatus(strings.ToUpper(s))
		params.Status = &status
	}
	if cur := c.Query("currency"); cur != "" {
		cur = strings.ToUpper(cur)
		params.Currency = &cur
	}

	wallets, total, err := h.wallets.ListWallets(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Page(c, toWalletResponses(wallets), pageMeta(page, pageSize, total))
}

// BalanceRange handles GET /api/v1/wallets/balance-range?min=&max=.
func (h *WalletHandler) BalanceRange(c *gin.Context) {
	min, err := decimalQuery(c, "min")
	if err != nil {
		response.Error(c, err)
		return
	}
	max, err := decimalQuery(c, "max")
	if err != nil {
		response.Error(c, err)
		return
	}
	if min == nil || max == nil {
		response.Error(c, apperror.Validation("min and max are required"))
		return
	}

	wallets, err := h.wallets.WalletsByBalanceRange(c.Request.Context(), *min, *max)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toWalletResponses(wallets))
}

// Stats handles GET /api/v1/wallets/stats.
func (h *WalletHandler) Stats(c *gin.Context) {
	stats, err := h.wallets.GetStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.WalletStatsResponse{
		TotalWallets:   stats.TotalWallets,
		ActiveWallets:  stats.ActiveWallets,
		TotalBalance:   domain.FormatAmount(stats.TotalBalance),
		AverageBalance: domain.FormatAmount(stats.AverageBalance),
	})
}

// Reconcile handles GET /api/v1/wallets/:id/reconcile.
func (h *WalletHandler) Reconcile(c *gin.Context) {
	id, err := uuidParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.wallets.Reconcile(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ReconcileResponse{
		WalletID:      result.WalletID.String(),
		Balance:       domain.FormatAmount(result.Balance),
		LedgerBalance: domain.FormatAmount(result.LedgerBalance),
		Consistent:    result.Consistent,
	})
}
