package http

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgdash/model"
)

func TestCheckQueryPolicyAllowsSelect(t *testing.T) {
	allowed := []string{
		"select 1",
		"SELECT * FROM pg_stat_activity",
		"select relname, n_live_tup from pg_stat_user_tables order by 2 desc limit 5",
		"with t as (select 1 as n) select n from t",
	}
	for _, q := range allowed {
		assert.NoError(t, CheckQueryPolicy(q), "query should be allowed: %s", q)
	}
}

func TestCheckQueryPolicyRejects(t *testing.T) {
	rejected := []string{
		"",
		"DELETE FROM foo",
		"update foo set a = 1",
		"insert into foo values (1)",
		"drop table foo",
		"truncate table foo",
		"select 1; delete from foo",
		"select * into backup from foo",
		"with x as (delete from foo returning *) select * from x",
		"not even sql",
	}
	for _, q := range rejected {
		err := CheckQueryPolicy(q)
		require.Error(t, err, "query should be rejected: %s", q)
		var pe *model.PolicyError
		assert.ErrorAs(t, err, &pe)
	}
}
