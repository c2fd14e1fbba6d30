package handler

import (
	"wallet-ledger/internal/adapter/http/dto"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderIdempotencyKey carries the idempotency key when the body omits it.
const HeaderIdempotencyKey = "Idempotency-Key"

// TransferHandler handles wallet-to-wallet transfer endpoints.
type TransferHandler struct {
	transfers ports.TransferService
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(transfers ports.TransferService) *TransferHandler {
	return &TransferHandler{transfers: transfers}
}

// Transfer handles POST /api/v1/transfers.
func (h *TransferHandler) Transfer(c *gin.Context) {
	req, err := bindTransfer(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.transfers.Transfer(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	body := dto.TransferResponse{
		Transaction:  toTransactionResponse(result.Transaction),
		SourceWallet: toWalletResponse(result.SourceWallet),
		TargetWallet: toWalletResponse(result.TargetWallet),
		Replayed:     result.Replayed,
	}
	if result.Replayed {
		response.OK(c, body)
		return
	}
	response.Created(c, body)
}

// SubmitAsync handles POST /api/v1/transfers/async.
func (h *TransferHandler) SubmitAsync(c *gin.Context) {
	req, err := bindTransfer(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	job, err := h.transfers.SubmitTransferAsync(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, toTransferJobResponse(job))
}

// GetJob handles GET /api/v1/transfers/jobs/:id.
func (h *TransferHandler) GetJob(c *gin.Context) {
	id, err := uuidParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	job, err := h.transfers.GetTransferJob(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toTransferJobResponse(job))
}

// QueueStats handles GET /api/v1/transfers/queue/stats.
func (h *TransferHandler) QueueStats(c *gin.Context) {
	stats, err := h.transfers.QueueStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

func bindTransfer(c *gin.Context) (ports.TransferRequest, error) {
	var req dto.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return ports.TransferRequest{}, apperror.Validation(err.Error())
	}
	dto.SanitizeStruct(&req)

	amount, err := req.Amount.Decimal()
	if err != nil {
		return ports.TransferRequest{}, apperror.Validation("amount must be a decimal number")
	}
	// binding already checked both ids
	source := uuid.MustParse(req.SourceWalletID)
	target := uuid.MustParse(req.TargetWalletID)

	key := req.IdempotencyKey
	if key == "" {
		key = c.GetHeader(HeaderIdempotencyKey)
	}

	return ports.TransferRequest{
		SourceWalletID: source,
		TargetWalletID: target,
		Amount:         amount,
		IdempotencyKey: key,
		Description:    req.Description,
		Metadata:       req.Metadata,
	}, nil
}
