package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
)

func TestMySQLConfig_DSN(t *testing.T) {
	testCases := []struct {
		name     string
		password string
	}{
		{"Plain password", "secret"},
		{"Reserved characters", "p@ss:w?rd/1&x=y"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := MySQLConfig{
				Host:     "db.internal",
				Port:     "3307",
				Database: "bot",
				Username: "relay",
				Password: tc.password,
				Timeout:  10 * time.Second,
			}

			dsn := cfg.DSN()
			assert.Contains(t, dsn, "charset=utf8mb4")

			parsed, err := mysqldriver.ParseDSN(dsn)
			require.NoError(t, err)
			assert.Equal(t, "relay", parsed.User)
			assert.Equal(t, tc.password, parsed.Passwd)
			assert.Equal(t, "tcp", parsed.Net)
			assert.Equal(t, "db.internal:3307", parsed.Addr)
			assert.Equal(t, "bot", parsed.DBName)
			assert.True(t, parsed.ParseTime)
			assert.Equal(t, 10*time.Second, parsed.Timeout)
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.True(t, isRetryableError(errors.New("dial tcp 10.0.0.1:3306: connect: connection refused")))
	assert.True(t, isRetryableError(errors.New("driver: bad connection")))
	assert.False(t, isRetryableError(errors.New("Error 1062: Duplicate entry")))
}

func TestMySQLStore_Initialize(t *testing.T) {
	store := setupTestMySQLStorage(t)
	ctx := context.Background()

	err := store.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestMySQLStore_SaveAndList(t *testing.T) {
	store := setupTestMySQLStorage(t)
	ctx := context.Background()

	writes := []*FailedWrite{
		{ID: "11111111-1111-1111-1111-111111111111", Resource: "completion", DiscordUser: "alice", Payload: `{"prompt":"hi"}`, Error: "status 500", CreatedAt: 100},
		{ID: "22222222-2222-2222-2222-222222222222", Resource: "images", DiscordUser: "bob", Payload: `{"imageUrl":"u"}`, Error: "timeout", CreatedAt: 200},
	}
	for _, w := range writes {
		require.NoError(t, store.SaveFailedWrite(ctx, w))
	}

	// Duplicate IDs are ignored
	require.NoError(t, store.SaveFailedWrite(ctx, writes[0]))

	listed, err := store.ListFailedWrites(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, writes[1].ID, listed[0].ID)
	assert.Equal(t, "bob", listed[0].DiscordUser)
	assert.Equal(t, writes[0].ID, listed[1].ID)

	count, err := store.CountFailedWrites(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMigrationService_SQLiteToMySQL(t *testing.T) {
	source := setupTestStorage(t)
	target := setupTestMySQLStorage(t)
	ctx := context.Background()

	require.NoError(t, source.SaveFailedWrite(ctx, &FailedWrite{
		ID:          "33333333-3333-3333-3333-333333333333",
		Resource:    "recipes",
		DiscordUser: "carol",
		Payload:     `{"ingredients":"eggs"}`,
		Error:       "status 502",
	}))

	migration := NewMigrationService(source, target)
	copied, err := migration.MigrateData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, copied)
	assert.NoError(t, migration.ValidateMigration(ctx))
}

func setupTestMySQLStorage(t *testing.T) *MySQLStore {
	if testing.Short() {
		t.Skip("skipping MySQL container test in short mode")
	}

	ctx := context.Background()

	mysqlContainer, err := mysql.Run(ctx, "mysql:8.0",
		mysql.WithDatabase("test"),
		mysql.WithUsername("root"),
		mysql.WithPassword("test"),
	)
	if err != nil {
		t.Fatalf("Failed to start MySQL container: %v", err)
	}

	t.Cleanup(func() {
		mysqlContainer.Terminate(ctx)
	})

	host, err := mysqlContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := mysqlContainer.MappedPort(ctx, "3306")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	store := NewMySQLStore(MySQLConfig{
		Host:     host,
		Port:     port.Port(),
		Database: "test",
		Username: "root",
		Password: "test",
		Timeout:  30 * time.Second,
	})
	if err := store.Initialize(ctx); err != nil {
		t.Fatalf("Failed to initialize MySQL store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})

	return store
}
