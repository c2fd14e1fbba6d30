package handler

import (
	"strings"

	"wallet-ledger/internal/adapter/http/dto"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TransactionHandler handles ledger read endpoints.
type TransactionHandler struct {
	txns ports.TransactionService
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(txns ports.TransactionService) *TransactionHandler {
	return &TransactionHandler{txns: txns}
}

// GetByKey handles GET /api/v1/transactions/:key.
func (h *TransactionHandler) GetByKey(c *gin.Context) {
	txn, err := h.txns.GetByIdempotencyKey(c.Request.Context(), c.Param("key"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toTransactionResponse(txn))
}

// List handles GET /api/v1/transactions.
func (h *TransactionHandler) List(c *gin.Context) {
	page, pageSize := pageQuery(c)
	params := ports.TransactionListParams{Page: page, PageSize: pageSize}

	if raw := c.Query("wallet_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.Error(c, apperror.Validation("wallet_id must be a valid UUID"))
			return
		}
		params.WalletID = &id
	}
	if s := c.Query("status"); s != "" {
		status := domain.TransactionStatus(strings.ToUpper(s))
		params.Status = &status
	}
	if t := c.Query("type"); t != "" {
		txType := domain.TransactionType(strings.ToUpper(t))
		params.Type = &txType
	}

	var err error
	if params.From, err = timeQuery(c, "from"); err != nil {
		response.Error(c, err)
		return
	}
	if params.To, err = timeQuery(c, "to"); err != nil {
		response.Error(c, err)
		return
	}
	if params.MinAmount, err = decimalQuery(c, "min_amount"); err != nil {
		response.Error(c, err)
		return
	}
	if params.MaxAmount, err = decimalQuery(c, "max_amount"); err != nil {
		response.Error(c, err)
		return
	}

	txns, total, err := h.txns.List(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Page(c, toTransactionResponses(txns), pageMeta(page, pageSize, total))
}

// Stats handles GET /api/v1/transactions/stats?wallet_id=.
func (h *TransactionHandler) Stats(c *gin.Context) {
	var walletID *uuid.UUID
	if raw := c.Query("wallet_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.Error(c, apperror.Validation("wallet_id must be a valid UUID"))
			return
		}
		walletID = &id
	}

	stats, err := h.txns.Stats(c.Request.Context(), walletID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.TransactionStatsResponse{
		TotalTransactions: stats.TotalTransactions,
		Completed:         stats.Completed,
		Pending:           stats.Pending,
		Failed:            stats.Failed,
		Cancelled:         stats.Cancelled,
		TotalDeposits:     domain.FormatAmount(stats.TotalDeposits),
		TotalWithdrawals:  domain.FormatAmount(stats.TotalWithdrawals),
		TotalTransfers:    domain.FormatAmount(stats.TotalTransfers),
		TotalFees:         domain.FormatAmount(stats.TotalFees),
	})
}

// Failed handles GET /api/v1/transactions/failed?limit=.
func (h *TransactionHandler) Failed(c *gin.Context) {
	txns, err := h.txns.Failed(c.Request.Context(), intQuery(c, "limit"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toTransactionResponses(txns))
}

// Pending handles GET /api/v1/transactions/pending?limit=.
func (h *TransactionHandler) Pending(c *gin.Context) {
	txns, err := h.txns.Pending(c.Request.Context(), intQuery(c, "limit"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toTransactionResponses(txns))
}

// DateRange handles GET /api/v1/transactions/date-range?from=&to=&owner_id=.
func (h *TransactionHandler) DateRange(c *gin.Context) {
	from, err := timeQuery(c, "from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := timeQuery(c, "to")
	if err != nil {
		response.Error(c, err)
		return
	}
	if from == nil || to == nil {
		response.Error(c, apperror.Validation("from and to are required"))
		return
	}

	var ownerID *string
	if o := c.Query("owner_id"); o != "" {
		ownerID = &o
	}

	txns, err := h.txns.ByDateRange(c.Request.Context(), *from, *to, ownerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toTransactionResponses(txns))
}

// ByOwner handles GET /api/v1/transactions/owner/:ownerId.
func (h *TransactionHandler) ByOwner(c *gin.Context) {
	page, pageSize := pageQuery(c)

	txns, total, err := h.txns.ByOwner(c.Request.Context(), c.Param("ownerId"), page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Page(c, toTransactionResponses(txns), pageMeta(page, pageSize, total))
}
