// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datasource

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownSample is returned by LoadSample for an unregistered name.
var ErrUnknownSample = errors.New("unknown sample dataset")

// SampleDataset describes a generated demo dataset.
type SampleDataset struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Rows        int    `json:"rows"`

	columns  []string
	generate func(r *rand.Rand, base time.Time, n int) [][]string
}

// sampleEpoch anchors every generated date so a dataset is the same on
// every load.
var sampleEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

var samples = map[string]SampleDataset{
	"sales": {
		Name: "sales", Title: "Sales Data", Rows: 1000,
		Description: "Orders with product, category, quantity, price, rep and region.",
		columns: []string{"order_id", "customer_id", "product_name", "category", "quantity",
			"unit_price", "total_amount", "order_date", "sales_rep", "region"},
		generate: genSales,
	},
	"customer": {
		Name: "customer", Title: "Customer Analytics", Rows: 500,
		Description: "Customer demographics, order counts, spend and segment.",
		columns: []string{"customer_id", "name", "email", "age", "gender", "city", "signup_date",
			"total_orders", "total_spent", "last_order_date", "customer_segment"},
		generate: genCustomers,
	},
	"financial": {
		Name: "financial", Title: "Financial Reports", Rows: 365,
		Description: "Daily revenue, expenses and profit by department for one year.",
		columns: []string{"date", "revenue", "expenses", "profit", "department",
			"budget_category", "quarter", "year"},
		generate: genFinancial,
	},
	"ecommerce": {
		Name: "ecommerce", Title: "E-commerce Transactions", Rows: 2000,
		Description: "Transactions with category, price, discount, payment and device.",
		columns: []string{"transaction_id", "user_id", "session_id", "product_id", "product_category",
			"price", "quantity", "discount", "payment_method", "device_type", "timestamp", "is_returned"},
		generate: genEcommerce,
	},
}

// Samples returns the sample datasets sorted by name.
func Samples() []SampleDataset {
	out := make([]SampleDataset, 0, len(samples))
	for _, s := range samples {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LookupSample finds a sample by name or title, case-insensitively.
func LookupSample(name string) (SampleDataset, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if s, ok := samples[key]; ok {
		return s, true
	}
	for _, s := range samples {
		if strings.EqualFold(s.Title, key) {
			return s, true
		}
	}
	return SampleDataset{}, false
}

// LoadSample generates a sample dataset into a new table bound to id.
// Generation is seeded by the dataset name so repeated loads match.
func (s *SQLiteStore) LoadSample(ctx context.Context, id, name string) (string, SampleDataset, error) {
	ds, ok := LookupSample(name)
	if !ok {
		return "", SampleDataset{}, fmt.Errorf("%w: %q", ErrUnknownSample, name)
	}
	var seed uint64
	for _, c := range ds.Name {
		seed = seed*31 + uint64(c)
	}
	rows := ds.generate(rand.New(rand.NewPCG(seed, 0x5a17)), sampleEpoch, ds.Rows)
	table, err := s.importRows(ctx, id, "sample_"+ds.Name, ds.columns, rows)
	if err != nil {
		return "", SampleDataset{}, err
	}
	return table, ds, nil
}

// =============================================================================
// Generators
// =============================================================================

func pick(r *rand.Rand, xs ...string) string { return xs[r.IntN(len(xs))] }

// between returns a uniform integer in [lo, hi].
func between(r *rand.Rand, lo, hi int) int { return lo + r.IntN(hi-lo+1) }

func money(r *rand.Rand, lo, hi float64) float64 {
	v := lo + r.Float64()*(hi-lo)
	return float64(int64(v*100+0.5)) / 100
}

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', 2, 64) }

func genSales(r *rand.Rand, base time.Time, n int) [][]string {
	rows := make([][]string, n)
	for i := range rows {
		qty := between(r, 1, 5)
		price := money(r, 10, 1000)
		rows[i] = []string{
			fmt.Sprintf("ORD%d", 1000+i),
			fmt.Sprintf("CUST%d", between(r, 1, 200)),
			pick(r, "Laptop", "Mouse", "Keyboard", "Monitor", "Headphones"),
			pick(r, "Electronics", "Accessories", "Computers"),
			strconv.Itoa(qty),
			ftoa(price),
			ftoa(float64(qty) * price),
			base.AddDate(0, 0, between(r, 0, 365)).Format(time.DateOnly),
			pick(r, "Alice", "Bob", "Charlie", "Diana", "Eve"),
			pick(r, "North", "South", "East", "West"),
		}
	}
	return rows
}

func genCustomers(r *rand.Rand, base time.Time, n int) [][]string {
	end := base.AddDate(1, 0, 0)
	rows := make([][]string, n)
	for i := range rows {
		rows[i] = []string{
			fmt.Sprintf("CUST%d", i+1),
			fmt.Sprintf("Customer %d", i+1),
			fmt.Sprintf("customer%d@example.com", i+1),
			strconv.Itoa(between(r, 18, 80)),
			pick(r, "Male", "Female", "Other"),
			pick(r, "New York", "Los Angeles", "Chicago", "Houston", "Phoenix"),
			end.AddDate(0, 0, -between(r, 1, 1000)).Format(time.DateOnly),
			strconv.Itoa(between(r, 0, 50)),
			ftoa(money(r, 0, 5000)),
			end.AddDate(0, 0, -between(r, 1, 100)).Format(time.DateOnly),
			pick(r, "Premium", "Regular", "Basic"),
		}
	}
	return rows
}

func genFinancial(r *rand.Rand, base time.Time, n int) [][]string {
	rows := make([][]string, n)
	for i := range rows {
		date := base.AddDate(0, 0, i)
		revenue := money(r, 10000, 50000)
		expenses := money(r, 5000, 30000)
		rows[i] = []string{
			date.Format(time.DateOnly),
			ftoa(revenue),
			ftoa(expenses),
			ftoa(revenue - expenses),
			pick(r, "Sales", "Marketing", "Operations", "HR"),
			pick(r, "Fixed", "Variable", "Capital"),
			fmt.Sprintf("Q%d", (int(date.Month())-1)/3+1),
			strconv.Itoa(date.Year()),
		}
	}
	return rows
}

func genEcommerce(r *rand.Rand, base time.Time, n int) [][]string {
	end := base.AddDate(1, 0, 0)
	rows := make([][]string, n)
	for i := range rows {
		returned := r.Float64() < 0.05
		rows[i] = []string{
			fmt.Sprintf("TXN%d", 10000+i),
			fmt.Sprintf("USER%d", between(r, 1, 500)),
			fmt.Sprintf("SESS%d", between(r, 1, 1000)),
			fmt.Sprintf("PROD%d", between(r, 1, 100)),
			pick(r, "Electronics", "Clothing", "Books", "Sports", "Home"),
			ftoa(money(r, 5, 500)),
			strconv.Itoa(between(r, 1, 3)),
			ftoa(money(r, 0, 0.3)),
			pick(r, "Credit Card", "Debit Card", "PayPal", "Cash"),
			pick(r, "Desktop", "Mobile", "Tablet"),
			end.Add(-time.Duration(between(r, 1, 8760)) * time.Hour).Format(time.DateTime),
			strconv.FormatBool(returned),
		}
	}
	return rows
}
