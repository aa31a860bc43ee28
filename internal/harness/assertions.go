package harness

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/bizcursor/internal/bizobj"
	"github.com/roach88/bizcursor/internal/driver"
)

// validIdentifier matches the table and column names final_state may
// interpolate into SQL.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionContext is what assertions read besides the trace.
type AssertionContext struct {
	DB   driver.Driver
	Root *bizobj.BizObj
	Ctx  context.Context
}

// AssertionError is a failed assertion with the statements that led to it.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s\n", ev.Step, ev.Op, ev.Object)
		for _, s := range ev.Statements {
			fmt.Fprintf(&buf, "      %s\n", s.SQL)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the messages of
// those that failed.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertStatementCount:
		return assertStatementCount(result, a)
	case AssertFieldValue:
		return assertFieldValue(result, a, actx)
	case AssertRowCount:
		return assertRowCount(result, a, actx)
	case AssertChanged:
		return assertChanged(result, a, actx)
	case AssertFinalState:
		return assertFinalState(result, a, actx)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertStatementCount(result *Result, a Assertion) error {
	kw := strings.ToUpper(a.Keyword)
	count := 0
	for _, s := range result.Statements() {
		fields := strings.Fields(s.SQL)
		if len(fields) == 0 || strings.ToUpper(fields[0]) != kw {
			continue
		}
		if a.Table != "" && !mentionsTable(s.SQL, a.Table) {
			continue
		}
		count++
	}
	if count == a.Count {
		return nil
	}
	what := kw
	if a.Table != "" {
		what += " on " + a.Table
	}
	return &AssertionError{
		Type:     AssertStatementCount,
		Expected: fmt.Sprintf("%d %s statements", a.Count, what),
		Actual:   fmt.Sprintf("%d %s statements", count, what),
		Trace:    result.Trace,
	}
}

// mentionsTable reports whether query names table as a quoted or bare
// identifier.
func mentionsTable(query, table string) bool {
	for _, form := range []string{`"` + table + `"`, "`" + table + "`", " " + table + " "} {
		if strings.Contains(query+" ", form) {
			return true
		}
	}
	return false
}

func assertFieldValue(result *Result, a Assertion, actx *AssertionContext) error {
	bo, err := assertionObject(actx, a.Object)
	if err != nil {
		return err
	}
	v, err := bo.FieldValue(a.Field)
	if err != nil {
		return err
	}
	if sameValue(v, a.Expect) {
		return nil
	}
	return &AssertionError{
		Type:     AssertFieldValue,
		Expected: fmt.Sprintf("%s.%s = %v", bo.Name(), a.Field, a.Expect),
		Actual:   fmt.Sprintf("%s.%s = %v", bo.Name(), a.Field, v),
		Trace:    result.Trace,
	}
}

func assertRowCount(result *Result, a Assertion, actx *AssertionContext) error {
	bo, err := assertionObject(actx, a.Object)
	if err != nil {
		return err
	}
	if n := bo.RowCount(); n != a.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%s has %d rows", bo.Name(), a.Count),
			Actual:   fmt.Sprintf("%s has %d rows", bo.Name(), n),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertChanged(result *Result, a Assertion, actx *AssertionContext) error {
	bo, err := assertionObject(actx, a.Object)
	if err != nil {
		return err
	}
	want := a.Expect.(bool)
	if got := bo.IsAnyChanged(); got != want {
		return &AssertionError{
			Type:     AssertChanged,
			Expected: fmt.Sprintf("%s changed = %t", bo.Name(), want),
			Actual:   fmt.Sprintf("%s changed = %t", bo.Name(), got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertFinalState queries Table for rows matching Where and requires one
// of them to carry every value in Expect.
func assertFinalState(result *Result, a Assertion, actx *AssertionContext) error {
	expect := a.Expect.(map[string]any)
	if !validIdentifier.MatchString(a.Table) {
		return fmt.Errorf("invalid table name %q", a.Table)
	}
	cols := make([]string, 0, len(a.Where))
	for col := range a.Where {
		if !validIdentifier.MatchString(col) {
			return fmt.Errorf("invalid column name %q", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	query := "SELECT * FROM " + a.Table
	params := make([]any, 0, len(cols))
	for i, col := range cols {
		if i == 0 {
			query += " WHERE "
		} else {
			query += " AND "
		}
		query += col + " = ?"
		params = append(params, a.Where[col])
	}

	res, err := actx.DB.Execute(actx.Ctx, query, params...)
	if err != nil {
		return fmt.Errorf("final_state query: %w", err)
	}
	if len(res.Rows) == 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("a row in %s where %v", a.Table, a.Where),
			Actual:   "no rows",
			Trace:    result.Trace,
		}
	}

	var last map[string]any
	for i := range res.Rows {
		row := rowMap(res, i)
		if matchRow(row, expect) {
			return nil
		}
		last = row
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("%s where %v has %v", a.Table, a.Where, expect),
		Actual:   fmt.Sprintf("%v", last),
		Trace:    result.Trace,
	}
}

func rowMap(res *driver.Result, i int) map[string]any {
	switch row := res.Rows[i].(type) {
	case driver.MappedRow:
		return row
	case driver.PositionalRow:
		out := make(map[string]any, len(row))
		for j, col := range res.Columns {
			if j < len(row) {
				out[col.Name] = row[j]
			}
		}
		return out
	}
	return nil
}

func matchRow(row, expect map[string]any) bool {
	for k, want := range expect {
		got, ok := row[k]
		if !ok || !sameValue(got, want) {
			return false
		}
	}
	return true
}

// sameValue compares a value read back from the database or a cursor with
// one written in YAML. Numbers of different widths compare equal when
// they print the same; []byte compares as text.
func sameValue(got, want any) bool {
	if got == nil || want == nil {
		return got == nil && want == nil
	}
	if b, ok := got.([]byte); ok {
		got = string(b)
	}
	return fmt.Sprint(got) == fmt.Sprint(want)
}

func assertionObject(actx *AssertionContext, name string) (*bizobj.BizObj, error) {
	if name == "" {
		return actx.Root, nil
	}
	if bo := findObject(actx.Root, name); bo != nil {
		return bo, nil
	}
	return nil, fmt.Errorf("no object named %q", name)
}
