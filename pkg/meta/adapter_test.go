package meta

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestNewDB_SQLite(t *testing.T) {
	db, err := NewDB(context.Background(), Config{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, db.GetConn().Migrator().HasTable(&EntryModel{}))
	assert.True(t, db.GetConn().Migrator().HasTable(&EventModel{}))
}

func TestNewDB_Validation(t *testing.T) {
	_, err := NewDB(context.Background(), Config{Driver: DriverSQLite})
	assert.Error(t, err, "sqlite 需要 DSN")

	_, err = NewDB(context.Background(), Config{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)
}

func TestSetup_FailureClosesPool(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "ledger.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// ping 失败
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = setup(ctx, conn, DriverSQLite)
	require.ErrorIs(t, err, context.Canceled)

	// 连接池已经被关闭
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	assert.Error(t, sqlDB.Ping())
}

func TestNewDB_PingFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	db, err := NewDB(ctx, Config{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "ledger.db"),
	})
	assert.Nil(t, db)
	assert.ErrorIs(t, err, context.Canceled)
}
