// Package httputil provides helpers for JSON responses, error mapping and
// request parsing shared by memhub handlers.
//
// Errors produced by the domain packages wrap an errs sentinel; WriteErrorFor
// converts them into a status code and JSON body:
//
//	plan, err := planner.Plan(ctx, caller, req)
//	if err != nil {
//		httputil.WriteErrorFor(w, err)
//		return
//	}
//	httputil.WriteSuccess(w, plan)
//
// Path and query parsing:
//
//	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
//	limit, err := httputil.ParseQueryInt(r, "limit", 50)
package httputil
