package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/roach88/runctl/internal/store"
	"github.com/roach88/runctl/internal/wire"
)

// validIdentifier restricts the table and column names a final_state
// assertion may interpolate into its query.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Cycle, event.Kind, event.Opcode)
		}
	}

	return buf.String()
}

// eventMatches reports whether event has the given kind and, when opcode is
// set, the given opcode name.
func eventMatches(event TraceEvent, kind, opcode string) bool {
	if event.Kind != kind {
		return false
	}
	return opcode == "" || event.Opcode == opcode
}

func describeEvent(kind, opcode string) string {
	if opcode == "" {
		return kind
	}
	return kind + ":" + opcode
}

// assertTraceContains checks if the trace contains an event of the given
// kind whose fields include the expected ones (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if eventMatches(event, assertion.Kind, assertion.Opcode) && matchFields(event.toMap(), assertion.Fields) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event %s with fields %v", describeEvent(assertion.Kind, assertion.Opcode), assertion.Fields),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if events appear in the specified order.
// Events don't need to be consecutive. Each entry matches the first event
// after the previous match, so repeated kinds are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	prev := -1
	for _, entry := range assertion.Kinds {
		kind, opcode, _ := strings.Cut(entry, ":")

		found := -1
		for i := pos; i < len(trace); i++ {
			if eventMatches(trace[i], kind, opcode) {
				found = i
				break
			}
		}
		if found < 0 {
			actual := fmt.Sprintf("missing event: %s", entry)
			if prev >= 0 {
				actual = fmt.Sprintf("no %s after position %d", entry, prev+1)
			}
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Kinds),
				Actual:   actual,
				Trace:    trace,
			}
		}
		prev = found
		pos = found + 1
	}

	return nil
}

// assertTraceCount checks if the event appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if eventMatches(event, assertion.Kind, assertion.Opcode) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, describeEvent(assertion.Kind, assertion.Opcode)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertRecordCount checks the number of records drained from the log.
func assertRecordCount(records []wire.LogRecord, assertion Assertion) error {
	count := 0
	for _, r := range records {
		if assertion.Opcode == "" || r.Opcode.String() == assertion.Opcode {
			count++
		}
	}

	if count != assertion.Count {
		what := "records"
		if assertion.Opcode != "" {
			what = assertion.Opcode + " records"
		}
		return &AssertionError{
			Type:     AssertRecordCount,
			Expected: fmt.Sprintf("%d %s", assertion.Count, what),
			Actual:   fmt.Sprintf("%d %s", count, what),
		}
	}

	return nil
}

// assertAckCount checks the number of acknowledgment packets accepted.
func assertAckCount(acks []wire.AckBeat, assertion Assertion) error {
	if len(acks) != assertion.Count {
		return &AssertionError{
			Type:     AssertAckCount,
			Expected: fmt.Sprintf("%d acknowledgment packets", assertion.Count),
			Actual:   fmt.Sprintf("%d acknowledgment packets", len(acks)),
		}
	}
	return nil
}

// assertResetLines checks the final reset outputs.
func assertResetLines(result *Result, assertion Assertion) error {
	actual := map[string]any{
		"datapath": result.Lines.Datapath,
		"control":  result.Lines.Control,
	}
	return expectFields(AssertResetLines, actual, assertion.Expect)
}

// assertLatched checks the final long-lived fields.
func assertLatched(result *Result, assertion Assertion) error {
	l := result.Latched
	actual := map[string]any{
		"run_number":         int64(l.RunNumber),
		"reset_assert_mask":  int64(l.ResetAssertMask),
		"reset_release_mask": int64(l.ResetReleaseMask),
		"target_address":     int64(l.TargetAddress),
	}
	return expectFields(assertion.Type, actual, assertion.Expect)
}

func expectFields(typ string, actual, expect map[string]any) error {
	for _, key := range sortedKeys(expect) {
		actualValue, exists := actual[key]
		if !exists {
			return &AssertionError{
				Type:     typ,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("fields present: %v", sortedKeys(actual)),
			}
		}
		if !valuesEqual(actualValue, expect[key]) {
			return &AssertionError{
				Type:     typ,
				Expected: fmt.Sprintf("%s = %v", key, expect[key]),
				Actual:   fmt.Sprintf("%s = %v", key, actualValue),
			}
		}
	}
	return nil
}

// assertFinalState checks that exactly one row of an archive table, within
// the run's session and matching Where, carries the Expect values.
func assertFinalState(ctx context.Context, st *store.Store, sessionID string, assertion Assertion) error {
	if assertion.Table == "" {
		return fmt.Errorf("final_state assertion requires table name")
	}
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	sessionColumn := "session_id"
	if assertion.Table == "sessions" {
		sessionColumn = "id"
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", assertion.Table, sessionColumn)
	if whereSQL != "" {
		query += " AND " + whereSQL
	}

	row, n, err := queryRow(ctx, st, query, append([]any{sessionID}, whereArgs...))
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	switch {
	case n == 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	case n > 1:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	return expectFields(AssertFinalState, row, assertion.Expect)
}

// queryRow returns the first row of the query by column name and whether
// zero, one or more rows matched (n is capped at 2).
func queryRow(ctx context.Context, st *store.Store, query string, args []any) (map[string]any, int, error) {
	rows, err := st.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, 0, fmt.Errorf("get columns: %w", err)
	}
	if !rows.Next() {
		return nil, 0, rows.Err()
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, 0, fmt.Errorf("scan row: %w", err)
	}

	row := make(map[string]any, len(columns))
	for i, col := range columns {
		row[col] = values[i]
	}
	if rows.Next() {
		return row, 2, nil
	}
	return row, 1, rows.Err()
}

// buildWhereClause turns Where into a parameterized conjunction, keys in
// sorted order.
func buildWhereClause(where map[string]interface{}) (string, []interface{}, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := sortedKeys(where)
	clauses := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys))

	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML value to a SQL-compatible value.
func toSQLValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string, int64, bool:
		return val
	case int:
		return int64(val)
	case uint64:
		return int64(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]interface{}) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// matchFields checks if actual contains all expected fields (subset match).
// Nested maps are matched the same way. Extra keys in actual are ignored.
func matchFields(actual map[string]any, expected map[string]interface{}) bool {
	for key, expectedVal := range expected {
		actualVal, exists := actual[key]
		if !exists {
			return false
		}
		if !valuesEqual(actualVal, expectedVal) {
			return false
		}
	}
	return true
}

// valuesEqual compares a trace or archive value with a YAML value.
// Integers compare by value whatever their Go type, SQLite text may arrive
// as bytes and SQLite booleans as integers. Nested maps use subset
// semantics.
func valuesEqual(actual, expected interface{}) bool {
	if actual == nil && expected == nil {
		return true
	}
	if actual == nil || expected == nil {
		return false
	}

	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}
	if e, ok := expected.(bool); ok {
		if a, ok := actual.(int64); ok {
			return e == (a != 0)
		}
	}

	if a, ok := toInt64(actual); ok {
		e, ok := toInt64(expected)
		return ok && a == e
	}

	if am, ok := actual.(map[string]any); ok {
		em, ok := expected.(map[string]interface{})
		return ok && matchFields(am, em)
	}

	return reflect.DeepEqual(actual, expected)
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint8:
		return int64(n), true
	}
	return 0, false
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store     *store.Store
	Ctx       context.Context
	SessionID string
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertRecordCount:
			err = assertRecordCount(result.Records, assertion)
		case AssertAckCount:
			err = assertAckCount(result.Acks, assertion)
		case AssertResetLines:
			err = assertResetLines(result, assertion)
		case AssertLatched:
			err = assertLatched(result, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, actx.SessionID, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
