package sql

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore_UnsupportedDriver(t *testing.T) {
	_, err := NewStore("sqlite", "file::memory:", 1, 1, time.Minute, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestNormalizeMySQLDSN(t *testing.T) {
	t.Run("强制 parseTime 与 UTC", func(t *testing.T) {
		dsn, err := normalizeMySQLDSN("meru:secret@tcp(127.0.0.1:3306)/meru")
		require.NoError(t, err)
		assert.True(t, strings.Contains(dsn, "parseTime=true"))
		assert.True(t, strings.HasPrefix(dsn, "meru:secret@tcp(127.0.0.1:3306)/meru"))
	})

	t.Run("保留已有参数", func(t *testing.T) {
		dsn, err := normalizeMySQLDSN("meru:secret@tcp(db:3306)/meru?charset=utf8mb4")
		require.NoError(t, err)
		assert.Contains(t, dsn, "charset=utf8mb4")
		assert.Contains(t, dsn, "parseTime=true")
	})

	t.Run("非法 DSN 报错", func(t *testing.T) {
		_, err := normalizeMySQLDSN("meru:secret@tcp(db:3306)meru")
		assert.Error(t, err)
	})
}

func TestIdentityTableName(t *testing.T) {
	assert.Equal(t, "identities", identity{}.TableName())
}
