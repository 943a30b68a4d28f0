package database

import (
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudguard/internal/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.MySQLConfig{
		Host:     "db.internal",
		Port:     3307,
		User:     "fraud",
		Password: "s3cret",
		Database: "fraudguard",
	})

	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "fraud", parsed.User)
	assert.Equal(t, "s3cret", parsed.Passwd)
	assert.Equal(t, "db.internal:3307", parsed.Addr)
	assert.Equal(t, "fraudguard", parsed.DBName)
	assert.True(t, parsed.ParseTime)
}

func TestIsDuplicateKey(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'T1' for key 'uk_transactions_external_id'"}

	assert.True(t, IsDuplicateKey(dup))
	assert.True(t, IsDuplicateKey(errors.Wrap(dup, "insert")))
	assert.False(t, IsDuplicateKey(&mysql.MySQLError{Number: 1146}))
	assert.False(t, IsDuplicateKey(errors.New("connection refused")))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_create_transactions.up.sql")
	assert.Contains(t, names, "000001_create_transactions.down.sql")
}
