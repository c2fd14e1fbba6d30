package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"wallet-ledger/config"
	"wallet-ledger/internal/core/ports/mocks"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestStaleTransferReaper_RunOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	txRepo := mocks.NewMockTransactionRepository(ctrl)

	r := NewStaleTransferReaper(txRepo, config.ReaperConfig{Interval: time.Minute, PendingTTL: 5 * time.Minute}, zerolog.Nop())
	r.now = func() time.Time { return testNow }

	txRepo.EXPECT().
		CancelStalePending(gomock.Any(), testNow.Add(-5*time.Minute), "abandoned: not completed within 5m0s").
		Return(int64(2), nil)

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStaleTransferReaper_RunOnce_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	txRepo := mocks.NewMockTransactionRepository(ctrl)

	r := NewStaleTransferReaper(txRepo, config.ReaperConfig{Interval: time.Minute, PendingTTL: time.Minute}, zerolog.Nop())
	txRepo.EXPECT().CancelStalePending(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), errors.New("db down"))

	_, err := r.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestStaleTransferReaper_Run(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	txRepo := mocks.NewMockTransactionRepository(ctrl)

	r := NewStaleTransferReaper(txRepo, config.ReaperConfig{Interval: 5 * time.Millisecond, PendingTTL: time.Minute}, zerolog.Nop())

	swept := make(chan struct{}, 1)
	txRepo.EXPECT().CancelStalePending(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, time.Time, string) (int64, error) {
			select {
			case swept <- struct{}{}:
			default:
			}
			return 0, nil
		}).MinTimes(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-swept:
	case <-time.After(time.Second):
		t.Fatal("reaper never swept")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestStaleTransferReaper_Disabled(t *testing.T) {
	r := NewStaleTransferReaper(nil, config.ReaperConfig{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, r.Run(ctx))
}
