package dto

import (
	"encoding/json"
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- SanitizeStruct tests ---

func TestSanitizeStruct_TrimsWhitespace(t *testing.T) {
	req := CreateWalletRequest{
		OwnerID:  "  alice  ",
		Currency: " USD ",
	}
	SanitizeStruct(&req)

	assert.Equal(t, "alice", req.OwnerID)
	assert.Equal(t, "USD", req.Currency)
}

func TestSanitizeStruct_EscapesHTML(t *testing.T) {
	desc := "rent <script>alert('x')</script> march"
	req := BalanceChangeRequest{Amount: "10", Description: &desc}
	SanitizeStruct(&req)

	assert.Contains(t, *req.Description, "&lt;script&gt;")
	assert.NotContains(t, *req.Description, "<script>")
}

func TestSanitizeStruct_NilPointerIsNoOp(t *testing.T) {
	req := TransferRequest{IdempotencyKey: "k1"}
	SanitizeStruct(&req)
	assert.Nil(t, req.Description)
}

func TestSanitizeStruct_NonPointerIsNoOp(t *testing.T) {
	s := "hello"
	SanitizeStruct(s) // should not panic
}

// --- Amount tests ---

func TestAmount_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Amount
	}{
		{"number", `{"amount": 10.005}`, "10.005"},
		{"string", `{"amount": "250.50"}`, "250.50"},
		{"integer", `{"amount": 100}`, "100"},
		{"null", `{"amount": null}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req BalanceChangeRequest
			require.NoError(t, json.Unmarshal([]byte(tt.body), &req))
			assert.Equal(t, tt.want, req.Amount)
		})
	}
}

func TestAmount_UnmarshalJSON_Rejects(t *testing.T) {
	var req BalanceChangeRequest
	assert.Error(t, json.Unmarshal([]byte(`{"amount": true}`), &req))
}

func TestAmount_Decimal(t *testing.T) {
	d, err := Amount("10.005").Decimal()
	require.NoError(t, err)
	assert.Equal(t, "10.01", d.StringFixed(2))

	d, err = Amount("").Decimal()
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = Amount("ten").Decimal()
	assert.Error(t, err)
}

// --- Custom Validator tests ---

func TestSafeID(t *testing.T) {
	for _, tc := range []string{"ref-001", "REF_002", "a.b.c", "order:42"} {
		assert.True(t, safeStringRe.MatchString(tc), "expected valid: %s", tc)
	}
	for _, tc := range []string{"ref 001", "ref<001>", "ref;DROP", "", "ref\n001"} {
		assert.False(t, safeStringRe.MatchString(tc), "expected invalid: %s", tc)
	}
}

func TestTransferRequest_Binding(t *testing.T) {
	valid := TransferRequest{
		SourceWalletID: uuid.NewString(),
		TargetWalletID: uuid.NewString(),
		Amount:         "12.50",
		IdempotencyKey: "order-1",
	}

	tests := []struct {
		name   string
		mutate func(r *TransferRequest)
		ok     bool
	}{
		{"valid", func(*TransferRequest) {}, true},
		{"zero amount passes binding", func(r *TransferRequest) { r.Amount = "0" }, true},
		{"negative amount", func(r *TransferRequest) { r.Amount = "-1" }, false},
		{"garbage amount", func(r *TransferRequest) { r.Amount = "1e" }, false},
		{"bad source id", func(r *TransferRequest) { r.SourceWalletID = "wallet-1" }, false},
		{"unsafe key", func(r *TransferRequest) { r.IdempotencyKey = "a b" }, false},
		{"missing amount", func(r *TransferRequest) { r.Amount = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := binding.Validator.ValidateStruct(&req)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestUpdateStatusRequest_Binding(t *testing.T) {
	assert.NoError(t, binding.Validator.ValidateStruct(&UpdateStatusRequest{Status: "SUSPENDED"}))
	assert.Error(t, binding.Validator.ValidateStruct(&UpdateStatusRequest{Status: "FROZEN"}))
}
