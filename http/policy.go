package http

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v5"

	"pgdash/model"
)

// CheckQueryPolicy is the safety rail for ad hoc execution: exactly one
// SELECT statement, verified by parsing rather than keyword matching, so
// semicolon-chained statements and SELECT INTO are rejected too.
func CheckQueryPolicy(query string) error {
	if strings.TrimSpace(query) == "" {
		return &model.PolicyError{Reason: "empty query"}
	}

	result, err := pg_query.Parse(query)
	if err != nil {
		return &model.PolicyError{Reason: "query could not be parsed; only a single SELECT statement is allowed"}
	}
	if len(result.Stmts) != 1 {
		return &model.PolicyError{Reason: "multiple statements are not allowed"}
	}

	sel := result.Stmts[0].Stmt.GetSelectStmt()
	if sel == nil {
		return &model.PolicyError{Reason: "only SELECT statements are allowed"}
	}
	if sel.GetIntoClause() != nil {
		return &model.PolicyError{Reason: "SELECT INTO is not allowed"}
	}
	if with := sel.GetWithClause(); with != nil {
		for _, cte := range with.GetCtes() {
			expr := cte.GetCommonTableExpr()
			if expr == nil || expr.GetCtequery().GetSelectStmt() == nil {
				return &model.PolicyError{Reason: "only SELECT statements are allowed in CTEs"}
			}
		}
	}
	return nil
}
