package dbexec

import "github.com/dbbouncer/gateway/internal/dbpool"

// MakeResultJSON renders a dbpool.Result into the three documented
// response shapes, mirroring DBResult::MakeResultJson(): a result set
// (SELECT-shaped), an exec result (affected rows / last insert id), or a
// bare "ok" for commands with no tabular outcome.
func MakeResultJSON(r dbpool.Result) map[string]any {
	switch r.Kind {
	case "result_set":
		return map[string]any{
			"type":     "result_set",
			"columns":  r.Columns,
			"rows":     r.Rows,
			"rowCount": len(r.Rows),
		}
	case "exec_result":
		return map[string]any{
			"type":         "exec_result",
			"affectedRows": r.AffectedRows,
			"lastInsertId": r.LastInsertID,
		}
	default:
		return map[string]any{"type": "ok"}
	}
}
