package postgres

import (
	"testing"
	"time"

	"wallet-ledger/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolConfig(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "testuser",
		Password:        "testpass",
		DBName:          "ledger",
		SSLMode:         "disable",
		MaxConns:        12,
		MinConns:        3,
		ConnMaxLifetime: 15 * time.Minute,
	}

	poolCfg, err := PoolConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, int32(12), poolCfg.MaxConns)
	assert.Equal(t, int32(3), poolCfg.MinConns)
	assert.Equal(t, 15*time.Minute, poolCfg.MaxConnLifetime)
	assert.Equal(t, "ledger", poolCfg.ConnConfig.Database)
	assert.Equal(t, "wallet-ledger", poolCfg.ConnConfig.RuntimeParams["application_name"])
}

func TestPoolConfig_KeepsDriverDefaultsForZeroValues(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host: "localhost", Port: 5432, User: "u", Password: "p", DBName: "d", SSLMode: "disable",
	}

	poolCfg, err := PoolConfig(cfg)
	require.NoError(t, err)
	assert.Positive(t, poolCfg.MaxConns)
}
