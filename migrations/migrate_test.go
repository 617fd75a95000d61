package migrations_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bistrohq/orders-api/internal/testutil"
	"github.com/bistrohq/orders-api/migrations"
)

func TestNames_Sorted(t *testing.T) {
	names, err := migrations.Names()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "0001_init.sql", names[0])
	assert.IsNonDecreasing(t, names)
}

func TestApply_RecordsMigrations(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `DROP TABLE IF EXISTS payments, order_items, orders, menu_items, reservations, users, schema_migrations CASCADE`)
	require.NoError(t, err)

	applied, err := migrations.Apply(ctx, pool)
	require.NoError(t, err)
	names, err := migrations.Names()
	require.NoError(t, err)
	assert.Equal(t, names, applied)

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, len(names), count)

	again, err := migrations.Apply(ctx, pool)
	require.NoError(t, err)
	assert.Empty(t, again)

	var count2 int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&count2))
	assert.Equal(t, count, count2)
}
