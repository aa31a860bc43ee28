package bizobj

import (
	"io"

	"github.com/roach88/bizcursor/internal/cursor"
	"github.com/roach88/bizcursor/internal/wire"
)

// DataDiff returns the unsaved changes of the current row, or of every
// changed row in the current context, with the changes of the child
// contexts that belong to those rows nested under each child's name.
// Children without changes are left out.
func (bo *BizObj) DataDiff(allRows bool) *wire.DataDiff {
	c := bo.Cursor()
	var rows []int
	switch {
	case allRows:
		rows = c.ChangedRows(true)
		for i := 0; i < c.RowCount(); i++ {
			if !c.IsRowChanged(i) && !c.IsNewRow(i) && bo.childrenChanged(c, i) {
				rows = append(rows, i)
			}
		}
	case c.RowCount() > 0:
		rows = []int{c.RowNumber()}
	}
	return bo.diffRows(c, rows)
}

func (bo *BizObj) diffRows(c *cursor.Cursor, rows []int) *wire.DataDiff {
	d := &wire.DataDiff{
		DataSource: bo.cfg.Name,
		KeyField:   bo.KeyField(),
		Rows:       []wire.RowDiff{},
	}
	for _, n := range rows {
		if rd, ok := c.DiffAt(n); ok {
			d.Rows = append(d.Rows, toWire(rd))
		}
	}
	for _, ch := range bo.children {
		cd := &wire.DataDiff{DataSource: ch.cfg.Name, KeyField: ch.KeyField(), Rows: []wire.RowDiff{}}
		for _, n := range rows {
			cc, ok := ch.contexts[contextKey(ch.parentValueAt(c, n))]
			if !ok {
				continue
			}
			sub := ch.diffRows(cc.cur, allRowIndexes(cc.cur))
			cd.Rows = append(cd.Rows, sub.Rows...)
			for name, gc := range sub.Children {
				if cd.Children == nil {
					cd.Children = make(map[string]*wire.DataDiff)
				}
				if prev, ok := cd.Children[name]; ok {
					prev.Rows = append(prev.Rows, gc.Rows...)
					continue
				}
				cd.Children[name] = gc
			}
		}
		if cd.IsEmpty() {
			continue
		}
		if d.Children == nil {
			d.Children = make(map[string]*wire.DataDiff)
		}
		d.Children[ch.cfg.Name] = cd
	}
	return d
}

func allRowIndexes(c *cursor.Cursor) []int {
	out := make([]int, c.RowCount())
	for i := range out {
		out[i] = i
	}
	return out
}

func toWire(rd cursor.RowDiff) wire.RowDiff {
	out := wire.RowDiff{Key: rd.Key, IsNew: rd.IsNew, Changes: make(map[string]wire.FieldChange, len(rd.Changes))}
	for name, fc := range rd.Changes {
		out.Changes[name] = wire.FieldChange{Old: fc.Old, New: fc.New}
	}
	return out
}

const xmlHeader = `<?xml version="1.0" encoding="utf-8" standalone="yes"?>` + "\n"

// WriteXML writes the current context as an XML document. Each row holds a
// <child> element per child object with the rows of its loaded context for
// that row.
func (bo *BizObj) WriteXML(w io.Writer) error {
	if _, err := io.WriteString(w, xmlHeader); err != nil {
		return err
	}
	return bo.Cursor().WriteXMLElement(w, "cursor", "", bo.childWriter())
}

func (bo *BizObj) childWriter() cursor.RowWriter {
	if len(bo.children) == 0 {
		return nil
	}
	return func(w io.Writer, row int, indent string) error {
		c := bo.Cursor()
		for _, ch := range bo.children {
			cc, ok := ch.contexts[contextKey(ch.parentValueAt(c, row))]
			if !ok || !cc.loaded && cc.cur.RowCount() == 0 {
				continue
			}
			if err := ch.writeContext(w, cc, indent); err != nil {
				return err
			}
		}
		return nil
	}
}

// writeContext writes one child context. The child's current key is moved
// to cc while its own children are written, so they resolve against it.
func (ch *BizObj) writeContext(w io.Writer, cc *cursorContext, indent string) error {
	saved := ch.currentKey
	defer func() { ch.currentKey = saved }()
	for k, v := range ch.contexts {
		if v == cc {
			ch.currentKey = k
			break
		}
	}
	return cc.cur.WriteXMLElement(w, "child", indent, ch.childWriter())
}
