package cursor

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/apd/v3"

	"github.com/roach88/bizcursor/internal/schema"
)

const xmlHeader = `<?xml version="1.0" encoding="utf-8" standalone="yes"?>` + "\n"

// RowWriter writes extra elements inside a row element, after its columns.
// It is called with the cursor positioned on row.
type RowWriter func(w io.Writer, row int, indent string) error

// WriteXML writes the visible rows as an XML document.
func (c *Cursor) WriteXML(w io.Writer) error {
	if _, err := io.WriteString(w, xmlHeader); err != nil {
		return err
	}
	return c.WriteXMLElement(w, "cursor", "", nil)
}

// WriteXMLElement writes the visible rows wrapped in a tag element, with
// each line prefixed by indent. extra, when set, adds content to every row.
func (c *Cursor) WriteXMLElement(w io.Writer, tag, indent string, extra RowWriter) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s<%s autopopulate=%s keyfield=%s table=%s>\n", indent, tag,
		attr(boolText(c.autoPopulatePK)), attr(strings.Join(c.keyFields, ",")), attr(c.table))
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}

	saved := c.rowNumber
	defer func() { c.rowNumber = saved }()
	for i, r := range c.records.Rows() {
		buf.Reset()
		fmt.Fprintf(&buf, "%s  <row>\n", indent)
		for _, f := range c.desc.Fields() {
			v, _ := r.Get(f.Alias)
			fmt.Fprintf(&buf, "%s    <column name=%s type=%s>%s</column>\n",
				indent, attr(f.Alias), attr(string(f.Type)), xmlText(formatValue(f, v)))
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}
		if extra != nil {
			c.rowNumber = i
			if err := extra(w, i, indent+"    "); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s  </row>\n", indent); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%s</%s>\n", indent, tag)
	return err
}

func boolText(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func attr(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	_ = xml.EscapeText(&b, []byte(s))
	b.WriteByte('"')
	return b.String()
}

// xmlText wraps s in CDATA when it holds markup characters.
func xmlText(s string) string {
	if !strings.ContainsAny(s, "<>&") {
		return s
	}
	return "<![CDATA[" + strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>") + "]]>"
}

func formatValue(f schema.Field, v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		if utf8.Valid(x) {
			return string(x)
		}
		return base64.StdEncoding.EncodeToString(x)
	case *apd.Decimal:
		return x.Text('f')
	case bool:
		return boolText(x)
	case time.Time:
		if x.IsZero() {
			return ""
		}
		if f.Type == schema.TypeDate {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.RFC3339)
	case SQLFunc:
		return string(x)
	}
	return fmt.Sprint(v)
}
