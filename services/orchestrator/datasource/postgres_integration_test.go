// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

//go:build integration

package datasource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

func TestPostgresSource(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("shop"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	src, err := ConnectPostgres(ctx, dsn, "")
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })

	_, err = src.pool.Exec(ctx, `
CREATE TABLE customers (id INT PRIMARY KEY, name TEXT NOT NULL);
CREATE TABLE sales (
	id INT PRIMARY KEY,
	region TEXT,
	amount NUMERIC(10,2),
	customer_id INT REFERENCES customers(id)
);
INSERT INTO customers VALUES (1, 'Ann'), (2, 'Bo');
INSERT INTO sales VALUES (1, 'East', 100.50, 1), (2, 'West', 200, 2), (3, 'East', NULL, 2);`)
	require.NoError(t, err)

	ref := datatypes.DataSourceRef{ID: "db", Kind: datatypes.SourceDatabase}

	t.Run("Describe", func(t *testing.T) {
		schema, err := src.Describe(ctx, ref)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"customers", "sales"}, schema.TableNames())
		sales, ok := schema.Table("sales")
		require.True(t, ok)
		assert.True(t, sales.HasColumn("amount"))
		assert.True(t, schema.Related("sales", "customer_id", "customers", "id"))
	})

	t.Run("Run", func(t *testing.T) {
		res, err := src.Run(ctx, "SELECT region, SUM(amount) AS total FROM sales GROUP BY region ORDER BY region", ref, 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, []string{"region", "total"}, res.Columns)
		require.Equal(t, 2, res.RowCount)
		assert.Equal(t, "East", res.Rows[0][0])
		assert.InDelta(t, 100.5, res.Rows[0][1], 1e-9)
	})

	t.Run("RunIsReadOnly", func(t *testing.T) {
		_, err := src.Run(ctx, "DELETE FROM sales", ref, 5*time.Second)
		assert.Error(t, err)
	})

	t.Run("Profile", func(t *testing.T) {
		profile, err := src.Profile(ctx, ref)
		require.NoError(t, err)
		for _, tp := range profile.Tables {
			if tp.Name != "sales" {
				continue
			}
			assert.Equal(t, int64(3), tp.RowCount)
			for _, c := range tp.Columns {
				if c.Name == "amount" {
					assert.InDelta(t, 1.0/3.0, c.NullRatio, 1e-9)
				}
			}
		}
	})
}
