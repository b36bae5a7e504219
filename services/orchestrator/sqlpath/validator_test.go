// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sqlpath

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

var shopSchema = datatypes.Schema{
	Tables: []datatypes.Table{
		{Name: "sales", Columns: []datatypes.Column{
			{Name: "region", Type: "TEXT"},
			{Name: "amount", Type: "REAL"},
			{Name: "product", Type: "TEXT"},
			{Name: "customer_id", Type: "INTEGER"},
			{Name: "sale_date", Type: "TEXT"},
		}},
		{Name: "customers", Columns: []datatypes.Column{
			{Name: "id", Type: "INTEGER"},
			{Name: "name", Type: "TEXT"},
			{Name: "region", Type: "TEXT"},
		}},
	},
	Relationships: []datatypes.Relationship{
		{FromTable: "sales", FromColumn: "customer_id", ToTable: "customers", ToColumn: "id"},
	},
}

func TestValidate_Accepts(t *testing.T) {
	queries := []string{
		"SELECT region, SUM(amount) AS total FROM sales GROUP BY region;",
		"SELECT COUNT(*) FROM sales;",
		"select Region, sum(Amount) from Sales group by Region",
		"SELECT region FROM sales WHERE amount > 100 AND product LIKE 'A%' ORDER BY amount DESC LIMIT 5;",
		"SELECT s.region, c.name FROM sales s JOIN customers c ON s.customer_id = c.id;",
		"SELECT s.region FROM sales AS s INNER JOIN customers AS c ON c.id = s.customer_id WHERE c.name = 'Ann';",
		"SELECT s.region FROM sales s JOIN customers c ON s.region = c.region;",
		"WITH t AS (SELECT region, SUM(amount) AS total FROM sales GROUP BY region) SELECT region, total FROM t ORDER BY total DESC;",
		"SELECT * FROM (SELECT region, amount FROM sales) AS sub WHERE sub.amount > 10;",
		"SELECT EXTRACT(YEAR FROM sale_date) AS yr, SUM(amount) FROM sales GROUP BY yr;",
		"SELECT amount * 2 AS doubled FROM sales;",
		"SELECT amount::numeric FROM sales;",
		"SELECT 'it''s; fine' AS note FROM sales;",
		"SELECT region FROM sales WHERE region = '(';",
		"SELECT region, COUNT(*) n FROM sales GROUP BY region ORDER BY n DESC;",
		"SELECT CASE WHEN amount > 100 THEN 'big' ELSE 'small' END AS size FROM sales;",
		"SELECT region FROM sales WHERE customer_id IN (SELECT id FROM customers WHERE name LIKE 'A%');",
		"SELECT region, amount, SUM(amount) OVER (PARTITION BY region) AS region_total FROM sales;",
		"SELECT \"region\" FROM \"sales\";",
		"SELECT region FROM sales -- trailing comment\n;",
	}
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			assert.NoError(t, Validate(q, shopSchema))
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		query string
		check string
	}{
		{"", CheckEmpty},
		{" ; ", CheckEmpty},
		{"DROP TABLE sales;", CheckReadOnly},
		{"EXPLAIN SELECT * FROM sales;", CheckReadOnly},
		{"SELECT * FROM sales; DROP TABLE sales;", CheckMultiple},
		{"WITH x AS (DELETE FROM sales RETURNING *) SELECT * FROM x;", CheckDangerous},
		{"SELECT region INTO backup FROM sales;", CheckDangerous},
		{"SELECT region FROM sales UNION SELECT name FROM customers;", CheckDangerous},
		{"SELECT SUM(amount FROM sales;", CheckParens},
		{"SELECT region) FROM sales;", CheckParens},
		{"SELECT 'unterminated FROM sales;", CheckSyntax},
		{"SELECT region FROM orders;", CheckTable},
		{"SELECT s.region FROM sales s JOIN orders o ON s.customer_id = o.id;", CheckTable},
		{"SELECT revenue FROM sales;", CheckColumn},
		{"SELECT s.revenue FROM sales s;", CheckColumn},
		{"SELECT x.region FROM sales s;", CheckColumn},
		{"SELECT region, SUM(amount) FROM sales;", CheckGroupBy},
		{"SELECT UPPER(region), COUNT(*) FROM sales;", CheckGroupBy},
		{"SELECT s.region FROM sales s JOIN customers c ON s.amount = c.id;", CheckJoinKeys},
		{"SELECT s.region FROM sales s JOIN customers c ON 1 = 1;", CheckJoinKeys},
	}
	for _, tt := range tests {
		t.Run(tt.check+"/"+tt.query, func(t *testing.T) {
			err := Validate(tt.query, shopSchema)
			require.Error(t, err)
			var verr *datatypes.SQLValidationError
			require.True(t, errors.As(err, &verr), "got %T", err)
			assert.Equal(t, tt.check, verr.Check, verr.Message)
			assert.Equal(t, tt.query, verr.Query)
		})
	}
}

// calendarSchema uses column and table names that double as SQL words in
// other positions.
var calendarSchema = datatypes.Schema{
	Tables: []datatypes.Table{
		{Name: "timeline", Columns: []datatypes.Column{
			{Name: "year", Type: "INTEGER"},
			{Name: "month", Type: "INTEGER"},
			{Name: "day", Type: "INTEGER"},
			{Name: "week", Type: "INTEGER"},
			{Name: "quarter", Type: "INTEGER"},
			{Name: "first", Type: "INTEGER"},
			{Name: "last", Type: "INTEGER"},
			{Name: "rows", Type: "INTEGER"},
			{Name: "current", Type: "INTEGER"},
			{Name: "range", Type: "TEXT"},
			{Name: "filter", Type: "TEXT"},
			{Name: "amount", Type: "REAL"},
			{Name: "sale_date", Type: "TEXT"},
		}},
		{Name: "first", Columns: []datatypes.Column{
			{Name: "id", Type: "INTEGER"},
		}},
	},
}

func TestValidate_SoftKeywordColumnsMissing(t *testing.T) {
	tests := []struct {
		query string
		check string
	}{
		{"SELECT year FROM sales;", CheckColumn},
		{"SELECT month, SUM(amount) FROM sales;", CheckColumn},
		{"SELECT region FROM sales WHERE first = 1;", CheckColumn},
		{"SELECT region FROM sales ORDER BY last;", CheckColumn},
		{"SELECT rows, current FROM sales;", CheckColumn},
		{"SELECT region FROM first;", CheckTable},
		{"SELECT s.region FROM sales s JOIN range r ON s.customer_id = r.id;", CheckTable},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var verr *datatypes.SQLValidationError
			require.ErrorAs(t, Validate(tt.query, shopSchema), &verr)
			assert.Equal(t, tt.check, verr.Check, verr.Message)
		})
	}
}

func TestValidate_SoftKeywordColumnsPresent(t *testing.T) {
	queries := []string{
		"SELECT year FROM timeline;",
		"SELECT month, SUM(amount) FROM timeline GROUP BY month;",
		"SELECT year, month, day, week, quarter FROM timeline WHERE first = 1 AND last = 2;",
		"SELECT rows, current, range, filter FROM timeline ORDER BY year DESC NULLS LAST;",
		"SELECT id FROM first;",
		"SELECT f.id FROM first f;",
		"SELECT EXTRACT(YEAR FROM sale_date) AS y, year FROM timeline;",
	}
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			assert.NoError(t, Validate(q, calendarSchema))
		})
	}

	var verr *datatypes.SQLValidationError
	require.ErrorAs(t, Validate("SELECT month, SUM(amount) FROM timeline;", calendarSchema), &verr)
	assert.Equal(t, CheckGroupBy, verr.Check)
}

func TestValidate_ContextKeywordsStillParse(t *testing.T) {
	queries := []string{
		"SELECT EXTRACT(MONTH FROM sale_date) AS m, COUNT(*) FROM sales GROUP BY m;",
		"SELECT region FROM sales WHERE sale_date > CURRENT_DATE - INTERVAL '7' DAY;",
		"SELECT region FROM sales ORDER BY amount DESC NULLS FIRST;",
		"SELECT region FROM sales ORDER BY amount OFFSET 10 ROWS FETCH FIRST 5 ROWS ONLY;",
		"SELECT region, SUM(amount) OVER (PARTITION BY region ORDER BY sale_date ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW) AS running FROM sales;",
		"SELECT region, SUM(amount) OVER (ORDER BY sale_date RANGE BETWEEN CURRENT ROW AND UNBOUNDED FOLLOWING) AS rest FROM sales;",
		"SELECT COUNT(*) FILTER (WHERE amount > 100) AS big FROM sales;",
		"SELECT TRIM(LEADING 'x' FROM region) AS r FROM sales;",
	}
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			assert.NoError(t, Validate(q, shopSchema))
		})
	}
}

func TestValidate_TooLarge(t *testing.T) {
	q := "SELECT region FROM sales WHERE region = '" + strings.Repeat("x", MaxQueryBytes) + "';"
	var verr *datatypes.SQLValidationError
	require.ErrorAs(t, Validate(q, shopSchema), &verr)
	assert.Equal(t, CheckSize, verr.Check)
}

func TestValidate_JoinWithoutRelationships(t *testing.T) {
	schema := shopSchema
	schema.Relationships = nil
	// Any column pair is accepted when no relationships are declared.
	assert.NoError(t, Validate("SELECT s.region FROM sales s JOIN customers c ON s.amount = c.id;", schema))
}

func TestValidate_MessageNamesAvailableTables(t *testing.T) {
	err := Validate("SELECT * FROM orders;", shopSchema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sales, customers")
}

func TestCleanSQL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "SELECT 1", "SELECT 1;"},
		{"fenced", "```sql\nSELECT region\nFROM sales;\n```", "SELECT region FROM sales;"},
		{"prose before", "Here is the query:\nSELECT region FROM sales", "SELECT region FROM sales;"},
		{"comments", "SELECT region -- the region\nFROM /* table */ sales", "SELECT region FROM sales;"},
		{"duplicate semicolons", "SELECT 1;;  ", "SELECT 1;"},
		{"string preserved", "SELECT 'a  -- b' FROM sales", "SELECT 'a  -- b' FROM sales;"},
		{"empty", "```\n```", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanSQL(tt.raw))
		})
	}
}
