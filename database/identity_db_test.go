package database

import (
	"context"
	"database/sql"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/camden-git/faceidbackend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	gdb, err := InitGormDB(DriverSQLite, filepath.Join(t.TempDir(), "test.db"), log.New(os.Stderr, "", 0))
	require.NoError(t, err)
	require.NoError(t, AutoMigrateModels(gdb))

	for _, name := range []string{"Ana", "Luis", "Ana"} {
		require.NoError(t, gdb.Create(&models.Identity{Name: name, CreatedAt: 1700000000}).Error)
	}

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return sqlDB
}

func TestGetIdentityName(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	name, err := GetIdentityName(ctx, db, 2)
	require.NoError(t, err)
	assert.Equal(t, "Luis", name)

	_, err = GetIdentityName(ctx, db, 42)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestIdentityReader_LookupName(t *testing.T) {
	r := IdentityReader{DB: newTestDB(t)}
	ctx := context.Background()

	name, found, err := r.LookupName(ctx, 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Ana", name)

	_, found, err = r.LookupName(ctx, 42)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListAndCountIdentities(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	all, err := ListIdentities(ctx, db, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, int64(1700000000), all[0].CreatedAt)

	page, err := ListIdentities(ctx, db, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "Luis", page[0].Name)

	count, err := CountIdentities(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	rec, err := GetIdentityByID(ctx, db, 3)
	require.NoError(t, err)
	assert.Equal(t, "Ana", rec.Name)
}

func TestOpenDialector_RejectsUnknownDriver(t *testing.T) {
	_, err := openDialector("postgres", "whatever")
	assert.Error(t, err)

	_, err = openDialector(DriverMySQL, "not a dsn")
	assert.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "faces.db?_busy_timeout=5000", sqliteDSN("faces.db"))
	assert.Equal(t, "faces.db?cache=shared", sqliteDSN("faces.db?cache=shared"))
}
