package config

import (
	"fmt"
	"log/slog"

	"github.com/roach88/bizcursor/internal/bizobj"
	"github.com/roach88/bizcursor/internal/driver"
	"github.com/roach88/bizcursor/internal/sqlbuilder"
)

// Build creates the business object named name, with its configured
// children attached, over drv. name may be any object in the forest; its
// ancestors are not built.
func (c *Config) Build(name string, drv driver.Driver, logger *slog.Logger, opts ...bizobj.Option) (*bizobj.BizObj, error) {
	obj, ok := c.Find(name)
	if !ok {
		return nil, fmt.Errorf("no object named %q", name)
	}
	return buildObject(obj, drv, logger, opts)
}

func buildObject(obj *Object, drv driver.Driver, logger *slog.Logger, opts []bizobj.Option) (*bizobj.BizObj, error) {
	bo := bizobj.New(drv, obj.bizConfig(drv.Dialect(), logger), opts...)
	for i := range obj.Children {
		child, err := buildObject(&obj.Children[i], drv, logger, opts)
		if err != nil {
			return nil, err
		}
		if err := bo.AddChild(child); err != nil {
			return nil, fmt.Errorf("object %s: %w", obj.DisplayName(), err)
		}
	}
	return bo, nil
}

func (o *Object) bizConfig(d driver.Dialect, logger *slog.Logger) bizobj.Config {
	cfg := bizobj.Config{
		Name:                     o.DisplayName(),
		Table:                    o.Table,
		KeyField:                 o.KeyField,
		AutoPopulatePK:           o.AutoPopulatePK,
		Schema:                   o.Fields,
		SQL:                      o.SQL,
		RestorePositionOnRequery: o.RestorePosition,
		SaveNewUnchanged:         o.SaveNewUnchanged,
		NonUpdateFields:          o.NonUpdateFields,
		Encoding:                 o.Encoding,
		DefaultValues:            o.DefaultValues,
		LinkField:                o.LinkField,
		ParentLinkField:          o.ParentLinkField,
		FillLinkFromParent:       o.FillLinkFromParent,
		RequeryWithParent:        o.RequeryWithParent,
		CacheInterval:            o.CacheInterval,
		DeleteChildren:           o.DeleteChildren,
		Logger:                   logger,
	}
	if o.SQL == "" {
		cfg.Builder = o.builder(d)
	}
	return cfg
}

func (o *Object) builder(d driver.Dialect) *sqlbuilder.Builder {
	b := bizobj.DefaultBuilder(d, o.Table, o.Fields)
	if o.Where != "" {
		b.AddWhere(o.Where)
	}
	if len(o.OrderBy) > 0 {
		b.SetOrderBy(o.OrderBy...)
	}
	if o.Limit > 0 {
		b.SetLimit(o.Limit)
	}
	return b
}
