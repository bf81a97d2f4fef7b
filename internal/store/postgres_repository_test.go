package store

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromoteDueQuery(t *testing.T) {
	now := time.Date(2026, 5, 11, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		table     string
		dueColumn string
		extraSet  string
		userID    string
		wantArgs  []any
		wantUser  bool
	}{
		{
			name:      "plans for one user",
			table:     "savings_plans",
			dueColumn: "maturity_date",
			extraSet:  "matured_at = $1, ",
			userID:    "6f1c1b9e-4d7a-4c2e-9b1a-0d3c5e7f9a11",
			wantArgs:  []any{now, "6f1c1b9e-4d7a-4c2e-9b1a-0d3c5e7f9a11"},
			wantUser:  true,
		},
		{
			name:      "plans for every user",
			table:     "savings_plans",
			dueColumn: "maturity_date",
			extraSet:  "matured_at = $1, ",
			wantArgs:  []any{now},
		},
		{
			name:      "investments for every user",
			table:     "investments",
			dueColumn: "end_date",
			wantArgs:  []any{now},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := promoteDueQuery(tt.table, tt.dueColumn, tt.extraSet, "id, status", tt.userID, now)

			assert.Equal(t, tt.wantArgs, args)
			assert.Contains(t, query, "UPDATE "+tt.table)
			assert.Contains(t, query, "SET status = 'matured', "+tt.extraSet+"updated_at = NOW()")
			assert.Contains(t, query, "WHERE status = 'active'")
			assert.Contains(t, query, "AND "+tt.dueColumn+" <= $1")
			assert.True(t, strings.HasSuffix(query, "RETURNING id, status"), query)

			// Every placeholder in the query has an argument.
			assert.Equal(t, tt.wantUser, strings.Contains(query, "user_id = $2"))
			assert.NotContains(t, query, fmt.Sprintf("$%d", len(args)+1))
		})
	}
}

func TestTransitionQuery(t *testing.T) {
	t.Run("settle plan", func(t *testing.T) {
		query := transitionQuery("savings_plans", "status = $1, withdrawn_amount = $2, invested_amount = $3, settled_at = $4", 4, "matured", planColumns)

		assert.Contains(t, query, "SET status = $1, withdrawn_amount = $2, invested_amount = $3, settled_at = $4, updated_at = NOW()")
		assert.Contains(t, query, "WHERE id = $5 AND user_id = $6 AND status = 'matured'")
		assert.Contains(t, query, "RETURNING "+planColumns)
		assert.NotContains(t, query, "$7")
	})

	t.Run("withdraw investment", func(t *testing.T) {
		query := transitionQuery("investments", "status = $1", 1, "matured", investmentColumns)

		assert.Contains(t, query, "UPDATE investments")
		assert.Contains(t, query, "WHERE id = $2 AND user_id = $3 AND status = 'matured'")
		assert.NotContains(t, query, "$4")
	})
}

func TestNoRowsAs(t *testing.T) {
	other := errors.New("connection refused")

	tests := []struct {
		name     string
		err      error
		sentinel error
		want     error
	}{
		{name: "no rows on read", err: pgx.ErrNoRows, sentinel: ErrPlanNotFound, want: ErrPlanNotFound},
		{name: "wrapped no rows", err: fmt.Errorf("scan: %w", pgx.ErrNoRows), sentinel: ErrInvestmentNotFound, want: ErrInvestmentNotFound},
		{name: "no rows on guarded update", err: pgx.ErrNoRows, sentinel: ErrStatusConflict, want: ErrStatusConflict},
		{name: "other errors pass through", err: other, sentinel: ErrUserNotFound, want: other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := noRowsAs(tt.err, tt.sentinel)
			require.ErrorIs(t, got, tt.want)
			if tt.want != tt.sentinel {
				assert.NotErrorIs(t, got, tt.sentinel)
			}
		})
	}
}

func TestLockClause(t *testing.T) {
	assert.Equal(t, " FOR UPDATE", lockClause(true))
	assert.Empty(t, lockClause(false))
}
