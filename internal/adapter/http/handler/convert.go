package handler

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"wallet-ledger/internal/adapter/http/dto"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const timeLayout = time.RFC3339

func toWalletResponse(w *domain.Wallet) dto.WalletResponse {
	return dto.WalletResponse{
		ID:        w.ID.String(),
		OwnerID:   w.OwnerID,
		Balance:   domain.FormatAmount(w.Balance),
		Status:    string(w.Status),
		Currency:  w.Currency,
		Version:   w.Version,
		CreatedAt: w.CreatedAt.Format(timeLayout),
		UpdatedAt: w.UpdatedAt.Format(timeLayout),
	}
}

func toWalletResponses(wallets []domain.Wallet) []dto.WalletResponse {
	items := make([]dto.WalletResponse, 0, len(wallets))
	for i := range wallets {
		items = append(items, toWalletResponse(&wallets[i]))
	}
	return items
}

func toTransactionResponse(tx *domain.Transaction) dto.TransactionResponse {
	resp := dto.TransactionResponse{
		ID:             tx.ID.String(),
		IdempotencyKey: tx.IdempotencyKey,
		SourceWalletID: tx.SourceWalletID.String(),
		Type:           string(tx.Type),
		Status:         string(tx.Status),
		Amount:         domain.FormatAmount(tx.Amount),
		Fee:            domain.FormatAmount(tx.Fee),
		Currency:       tx.Currency,
		Description:    tx.Description,
		ErrorMessage:   tx.ErrorMessage,
		Metadata:       tx.Metadata,
		CreatedAt:      tx.CreatedAt.Format(timeLayout),
		UpdatedAt:      tx.UpdatedAt.Format(timeLayout),
	}
	if tx.TargetWalletID != nil {
		s := tx.TargetWalletID.String()
		resp.TargetWalletID = &s
	}
	return resp
}

func toTransactionResponses(txns []domain.Transaction) []dto.TransactionResponse {
	items := make([]dto.TransactionResponse, 0, len(txns))
	for i := range txns {
		items = append(items, toTransactionResponse(&txns[i]))
	}
	return items
}

func toTransferJobResponse(job *ports.TransferJob) dto.TransferJobResponse {
	resp := dto.TransferJobResponse{
		JobID:          job.ID.String(),
		IdempotencyKey: job.Request.IdempotencyKey,
		State:          string(job.State),
		AttemptsMade:   job.AttemptsMade,
		MaxAttempts:    job.MaxAttempts,
		LastError:      job.LastError,
		EnqueuedAt:     job.EnqueuedAt.Format(timeLayout),
	}
	if job.TransactionID != nil {
		s := job.TransactionID.String()
		resp.TransactionID = &s
	}
	if job.RunAt != nil {
		s := job.RunAt.Format(timeLayout)
		resp.RunAt = &s
	}
	return resp
}

func pageMeta(page, pageSize int, total int64) response.PageMeta {
	totalPages := 0
	if pageSize > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(pageSize)))
	}
	return response.PageMeta{Page: page, PageSize: pageSize, Total: total, TotalPages: totalPages}
}

// uuidParam reads a path parameter as a uuid.
func uuidParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperror.Validation(fmt.Sprintf("%s must be a valid UUID", name))
	}
	return id, nil
}

// pageQuery reads page and page_size, clamping them to 1 and 1..100.
func pageQuery(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func decimalQuery(c *gin.Context, name string) (*decimal.Decimal, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	d, err := domain.ParseAmount(raw)
	if err != nil {
		return nil, apperror.Validation(fmt.Sprintf("%s must be a decimal number", name))
	}
	return &d, nil
}

// timeQuery accepts RFC 3339 timestamps or plain YYYY-MM-DD dates.
func timeQuery(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, apperror.Validation(fmt.Sprintf("%s must be RFC 3339 or YYYY-MM-DD", name))
}

func intQuery(c *gin.Context, name string) int {
	n, _ := strconv.Atoi(c.Query(name))
	return n
}
