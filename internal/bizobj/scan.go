package bizobj

import (
	"context"
	"slices"

	"github.com/roach88/bizcursor/internal/cursor"
)

// ScanOptions tune Scan.
type ScanOptions struct {
	// Reverse visits rows from last to first.
	Reverse bool
	// RequeryChildren reloads children at every row. Without it children
	// are only pointed at each row's context.
	RequeryChildren bool
	// KeepPosition leaves the pointer on the last visited row.
	KeepPosition bool
}

// ExitScan stops the running scan after the current row.
func (bo *BizObj) ExitScan() {
	bo.exitScan = true
}

// Scan calls fn at every row of the current context. fn may call ExitScan
// to stop early. Rows removed by fn are skipped.
func (bo *BizObj) Scan(ctx context.Context, fn func(*BizObj) error, opts ScanOptions) (err error) {
	c := bo.Cursor()
	count := c.RowCount()
	if count == 0 {
		return nil
	}
	orig := c.RowNumber()
	if !opts.KeepPosition {
		defer func() {
			setRowClamped(c, orig)
			if opts.RequeryChildren {
				if rqErr := bo.RequeryAllChildren(ctx); err == nil {
					err = rqErr
				}
			} else if alErr := bo.alignChildren(); err == nil {
				err = alErr
			}
		}()
	}

	rows := make([]int, count)
	for i := range rows {
		rows[i] = i
	}
	if opts.Reverse {
		slices.Reverse(rows)
	}
	bo.exitScan = false
	for _, n := range rows {
		if bo.exitScan {
			break
		}
		if n >= c.RowCount() {
			continue
		}
		if err := c.SetRowNumber(n); err != nil {
			return err
		}
		if opts.RequeryChildren {
			err = bo.RequeryAllChildren(ctx)
		} else {
			err = bo.alignChildren()
		}
		if err != nil {
			return err
		}
		if err := fn(bo); err != nil {
			return err
		}
	}
	bo.exitScan = false
	return nil
}

// ScanChangedRows calls fn at every row with unsaved changes, its own or in
// child contexts below it, from the last row to the first so fn may remove
// the row it is on. With allContexts every context is visited, not only
// the current one. The original context and positions are restored
// afterwards, also when fn fails.
func (bo *BizObj) ScanChangedRows(fn func(*BizObj) error, allContexts bool) (err error) {
	origKey := bo.currentKey
	keys := []string{origKey}
	if allContexts {
		keys = bo.ContextKeys()
	}
	positions := make(map[*cursor.Cursor]int, len(keys))
	defer func() {
		bo.currentKey = origKey
		for c, n := range positions {
			setRowClamped(c, n)
		}
		if alErr := bo.alignChildren(); err == nil {
			err = alErr
		}
	}()

	bo.exitScan = false
	for _, key := range keys {
		cc, ok := bo.contexts[key]
		if !ok {
			cc = bo.context(key)
		}
		c := cc.cur
		var rows []int
		for i := 0; i < c.RowCount(); i++ {
			if bo.rowChanged(c, i) {
				rows = append(rows, i)
			}
		}
		if len(rows) == 0 {
			continue
		}
		if _, seen := positions[c]; !seen {
			positions[c] = c.RowNumber()
		}
		bo.currentKey = key
		for i := len(rows) - 1; i >= 0; i-- {
			if bo.exitScan {
				return nil
			}
			if rows[i] >= c.RowCount() {
				continue
			}
			if err := c.SetRowNumber(rows[i]); err != nil {
				return err
			}
			if err := bo.alignChildren(); err != nil {
				return err
			}
			if err := fn(bo); err != nil {
				return err
			}
		}
	}
	return nil
}

// setRowClamped moves c to n, or to its last row when n is past the end.
func setRowClamped(c *cursor.Cursor, n int) {
	if c.RowCount() == 0 {
		return
	}
	if n >= c.RowCount() {
		n = c.RowCount() - 1
	}
	if n < 0 {
		n = 0
	}
	_ = c.SetRowNumber(n)
}
