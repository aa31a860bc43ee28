// Package bizobj orchestrates cursors into master/detail object graphs.
//
// A BizObj keeps one Cursor per parent context: the rows of a child object
// that belong to one parent row live in their own cursor, keyed by the
// parent's link value. Moving the parent switches the child to the matching
// context and, when configured, requeries it. Every navigating or mutating
// operation passes through before/after hooks; a before hook may veto the
// operation with a message, which surfaces as BUSINESS_RULE_VIOLATION.
//
// Persistence runs as a unit of work: the outermost Save, SaveAll, Delete or
// DeleteAll opens a transaction unless one is already held, checkpoints the
// affected cursors, and on failure rolls back and restores every cursor to
// its state before the call.
//
// A BizObj is not safe for concurrent use.
package bizobj

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/bizcursor/internal/cursor"
	"github.com/roach88/bizcursor/internal/driver"
	"github.com/roach88/bizcursor/internal/schema"
	"github.com/roach88/bizcursor/internal/sqlbuilder"
	"github.com/roach88/bizcursor/internal/txn"
)

// Config describes one business object.
type Config struct {
	// Name identifies the object in diffs, XML and logs. Defaults to Table.
	Name string

	Table          string
	KeyField       []string
	AutoPopulatePK bool
	Schema         *schema.Descriptor

	// Builder is the SELECT template. Each context gets its own clone.
	// When both Builder and SQL are empty a builder over Table is made.
	Builder *sqlbuilder.Builder
	// SQL, when set, is run by Requery instead of the builder.
	SQL       string
	SQLParams []any

	RestorePositionOnRequery bool
	SaveNewUnchanged         bool
	NonUpdateFields          []string
	Encoding                 string

	// DefaultValues are assigned to new rows. A value may be a literal, a
	// func() any or a func(*BizObj) any.
	DefaultValues map[string]any

	// LinkField is the field of this object that refers to its parent.
	LinkField string
	// ParentLinkField is the parent field whose value selects this
	// object's context. Empty means the parent's key.
	ParentLinkField string
	// FillLinkFromParent sets LinkField on new rows from the parent value.
	FillLinkFromParent bool
	// RequeryWithParent requeries this object when its parent moves.
	RequeryWithParent bool
	// CacheInterval skips a requery when the context was loaded more
	// recently than this.
	CacheInterval time.Duration
	// DeleteChildren lets a parent delete cascade into this object's rows.
	// Without it a parent with rows here cannot be deleted.
	DeleteChildren bool

	Logger *slog.Logger
}

// Clock reports the current time. It drives CacheInterval.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a BizObj.
type Option func(*BizObj)

// WithClock replaces the wall clock used for cache intervals.
func WithClock(c Clock) Option {
	return func(bo *BizObj) {
		bo.clock = c
	}
}

// WithTransactions sets the transaction manager. By default a graph uses
// the manager of its driver's connection.
func WithTransactions(m *txn.Manager) Option {
	return func(bo *BizObj) {
		bo.txm = m
	}
}

// cursorContext is the cursor for one parent context.
type cursorContext struct {
	cur         *cursor.Cursor
	parentValue any
	loaded      bool
	requeriedAt time.Time
}

// BizObj is a business object over one table.
type BizObj struct {
	cfg    Config
	drv    driver.Driver
	txm    *txn.Manager
	clock  Clock
	logger *slog.Logger

	contexts   map[string]*cursorContext
	currentKey string

	parent   *BizObj
	children []*BizObj

	before     map[Event][]BeforeHook
	after      map[Event][]AfterHook
	onNew      []func(*BizObj)
	fieldRules []FieldValidator
	rowRules   []RecordValidator
	virtual    map[string]cursor.VirtualField

	exitScan bool
}

// New creates a business object over drv.
func New(drv driver.Driver, cfg Config, opts ...Option) *BizObj {
	if cfg.Name == "" {
		cfg.Name = cfg.Table
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Logger = logger
	if cfg.Builder == nil && cfg.SQL == "" && cfg.Table != "" {
		cfg.Builder = DefaultBuilder(drv.Dialect(), cfg.Table, cfg.Schema)
	}
	bo := &BizObj{
		cfg:      cfg,
		drv:      drv,
		clock:    systemClock{},
		logger:   logger.With("object", cfg.Name),
		contexts: make(map[string]*cursorContext),
		before:   make(map[Event][]BeforeHook),
		after:    make(map[Event][]AfterHook),
		virtual:  make(map[string]cursor.VirtualField),
	}
	for _, opt := range opts {
		opt(bo)
	}
	if bo.txm == nil {
		bo.txm = driver.TransactionsFor(drv, logger)
	}
	return bo
}

// DefaultBuilder selects the table's own schema fields, or every column
// when no schema is configured.
func DefaultBuilder(d driver.Dialect, table string, desc *schema.Descriptor) *sqlbuilder.Builder {
	b := sqlbuilder.New().SetFrom(d.QuoteIdentifier(table))
	if desc == nil {
		return b
	}
	for _, f := range desc.Fields() {
		if f.Table != "" && !strings.EqualFold(f.Table, table) {
			continue
		}
		alias := ""
		if f.Alias != f.Name {
			alias = d.QuoteIdentifier(f.Alias)
		}
		b.AddField(d.QuoteIdentifier(f.Name), alias)
	}
	return b
}

// Name returns the object's data source name.
func (bo *BizObj) Name() string { return bo.cfg.Name }

// Config returns the object's configuration.
func (bo *BizObj) Config() Config { return bo.cfg }

// KeyField returns the key field names.
func (bo *BizObj) KeyField() []string { return slices.Clone(bo.cfg.KeyField) }

// Parent returns the owning object, or nil for a root.
func (bo *BizObj) Parent() *BizObj { return bo.parent }

// Children returns the dependent objects in registration order.
func (bo *BizObj) Children() []*BizObj { return slices.Clone(bo.children) }

// Child returns the dependent object named name.
func (bo *BizObj) Child(name string) (*BizObj, bool) {
	for _, c := range bo.children {
		if c.cfg.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Transactions returns the transaction manager shared by the graph.
func (bo *BizObj) Transactions() *txn.Manager { return bo.txm }

// AddChild registers child as dependent on bo. The child joins bo's
// transaction manager and switches to the context of bo's current row.
func (bo *BizObj) AddChild(child *BizObj) error {
	if child == bo || child.parent != nil {
		return fmt.Errorf("add child %s: already attached", child.cfg.Name)
	}
	for p := bo; p != nil; p = p.parent {
		if p == child {
			return fmt.Errorf("add child %s: cycle", child.cfg.Name)
		}
	}
	child.parent = bo
	child.shareTransactions(bo.txm)
	bo.children = append(bo.children, child)
	return child.SetCurrentParent()
}

func (bo *BizObj) shareTransactions(m *txn.Manager) {
	bo.txm = m
	for _, c := range bo.children {
		c.shareTransactions(m)
	}
}

// Cursor returns the cursor of the current context, creating it on first
// use.
func (bo *BizObj) Cursor() *cursor.Cursor {
	return bo.context(bo.currentKey).cur
}

func (bo *BizObj) currentContext() *cursorContext {
	return bo.context(bo.currentKey)
}

func (bo *BizObj) context(key string) *cursorContext {
	if cc, ok := bo.contexts[key]; ok {
		return cc
	}
	cfg := cursor.Config{
		Table:                    bo.cfg.Table,
		KeyField:                 bo.cfg.KeyField,
		AutoPopulatePK:           bo.cfg.AutoPopulatePK,
		Schema:                   bo.cfg.Schema,
		RestorePositionOnRequery: bo.cfg.RestorePositionOnRequery,
		SaveNewUnchanged:         bo.cfg.SaveNewUnchanged,
		Encoding:                 bo.cfg.Encoding,
		NonUpdateFields:          bo.cfg.NonUpdateFields,
		Logger:                   bo.cfg.Logger,
	}
	if bo.cfg.Builder != nil {
		cfg.Builder = bo.cfg.Builder.Clone()
	}
	c := cursor.New(bo.drv, cfg)
	if bo.cfg.SQL != "" {
		c.SetSQL(bo.cfg.SQL, bo.cfg.SQLParams...)
	}
	for name, vf := range bo.virtual {
		c.RegisterVirtualField(name, vf)
	}
	c.OnKeyAssigned(bo.handOff)
	cc := &cursorContext{cur: c}
	bo.contexts[key] = cc
	return cc
}

// ContextKeys returns the keys of every context created so far, sorted.
func (bo *BizObj) ContextKeys() []string {
	keys := make([]string, 0, len(bo.contexts))
	for k := range bo.contexts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// RegisterVirtualField adds a computed field to every context.
func (bo *BizObj) RegisterVirtualField(name string, vf cursor.VirtualField) {
	bo.virtual[name] = vf
	for _, cc := range bo.contexts {
		cc.cur.RegisterVirtualField(name, vf)
	}
}

// contextKey renders a parent value as a context map key. Integer widths
// collapse so a key fetched as int64 matches one assigned as int.
func contextKey(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case int:
		return fmt.Sprintf("i:%d", x)
	case int32:
		return fmt.Sprintf("i:%d", x)
	case int64:
		return fmt.Sprintf("i:%d", x)
	case string:
		return "s:" + x
	case []byte:
		return "s:" + string(x)
	case []any:
		parts := make([]string, len(x))
		for i, p := range x {
			parts[i] = contextKey(p)
		}
		return strings.Join(parts, "\x1f")
	}
	return fmt.Sprintf("%T:%v", v, v)
}

// RowCount returns the number of rows in the current context.
func (bo *BizObj) RowCount() int { return bo.Cursor().RowCount() }

// RowNumber returns the current row of the current context.
func (bo *BizObj) RowNumber() int { return bo.Cursor().RowNumber() }

// PK returns the key value of the current row.
func (bo *BizObj) PK() (any, error) { return bo.Cursor().PKExpression() }

// IsNewRow reports whether the current row is unsaved.
func (bo *BizObj) IsNewRow() bool {
	c := bo.Cursor()
	return c.IsNewRow(c.RowNumber())
}
