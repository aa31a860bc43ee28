// Package config loads bizcursor configuration files.
//
// A configuration names the backend connection, the logging setup and a
// forest of business objects. Files are YAML, decoded strictly so that a
// misspelled key is an error, then checked against an embedded CUE schema.
// A few settings can be overridden from the environment.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/bizcursor/internal/schema"
)

//go:embed schema.cue
var schemaSource string

// Environment variables that override file settings.
const (
	EnvDriver    = "BIZCURSOR_DB_DRIVER"
	EnvDSN       = "BIZCURSOR_DSN"
	EnvLogLevel  = "BIZCURSOR_LOG_LEVEL"
	EnvLogFormat = "BIZCURSOR_LOG_FORMAT"
)

// Config is a decoded configuration file.
type Config struct {
	Database Database `yaml:"database"`
	Logging  Logging  `yaml:"logging"`
	Objects  []Object `yaml:"objects"`
}

// Database selects the backend.
type Database struct {
	// Driver is sqlite3, pgx or mysql. Defaults to sqlite3.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Logging configures the process logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Object describes one business object and the objects that depend on it.
type Object struct {
	Name             string             `yaml:"name,omitempty"`
	Table            string             `yaml:"table"`
	KeyField         []string           `yaml:"key_field,omitempty"`
	AutoPopulatePK   bool               `yaml:"auto_populate_pk,omitempty"`
	Fields           *schema.Descriptor `yaml:"fields,omitempty"`
	SQL              string             `yaml:"sql,omitempty"`
	Where            string             `yaml:"where,omitempty"`
	OrderBy          []string           `yaml:"order_by,omitempty"`
	Limit            int                `yaml:"limit,omitempty"`
	RestorePosition  bool               `yaml:"restore_position,omitempty"`
	SaveNewUnchanged bool               `yaml:"save_new_unchanged,omitempty"`
	NonUpdateFields  []string           `yaml:"non_update_fields,omitempty"`
	Encoding         string             `yaml:"encoding,omitempty"`
	DefaultValues    map[string]any     `yaml:"default_values,omitempty"`

	LinkField          string        `yaml:"link_field,omitempty"`
	ParentLinkField    string        `yaml:"parent_link_field,omitempty"`
	FillLinkFromParent bool          `yaml:"fill_link_from_parent,omitempty"`
	RequeryWithParent  bool          `yaml:"requery_with_parent,omitempty"`
	CacheInterval      time.Duration `yaml:"cache_interval,omitempty"`
	DeleteChildren     bool          `yaml:"delete_children,omitempty"`

	Children []Object `yaml:"children,omitempty"`
}

// DisplayName returns Name, or Table when no name is set.
func (o *Object) DisplayName() string {
	if o.Name != "" {
		return o.Name
	}
	return o.Table
}

// Load reads and validates the configuration at path and applies
// environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("config is empty")
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for _, o := range envOverrides() {
		o.apply(&cfg)
		setPath(raw, o.path, o.value)
	}
	if err := validate(raw); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Find returns the object named name, searching children depth first.
func (c *Config) Find(name string) (*Object, bool) {
	var walk func([]Object) *Object
	walk = func(objs []Object) *Object {
		for i := range objs {
			if objs[i].DisplayName() == name {
				return &objs[i]
			}
			if o := walk(objs[i].Children); o != nil {
				return o
			}
		}
		return nil
	}
	o := walk(c.Objects)
	return o, o != nil
}

type override struct {
	path  []string
	value string
	apply func(*Config)
}

func envOverrides() []override {
	var out []override
	add := func(env string, path []string, set func(*Config, string)) {
		v, ok := os.LookupEnv(env)
		if !ok || v == "" {
			return
		}
		out = append(out, override{path: path, value: v, apply: func(c *Config) { set(c, v) }})
	}
	add(EnvDriver, []string{"database", "driver"}, func(c *Config, v string) { c.Database.Driver = v })
	add(EnvDSN, []string{"database", "dsn"}, func(c *Config, v string) { c.Database.DSN = v })
	add(EnvLogLevel, []string{"logging", "level"}, func(c *Config, v string) { c.Logging.Level = v })
	add(EnvLogFormat, []string{"logging", "format"}, func(c *Config, v string) { c.Logging.Format = v })
	return out
}

// setPath stores v at path in a decoded YAML document, creating maps as
// needed.
func setPath(doc map[string]any, path []string, v any) {
	m := doc
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}

// validate checks a decoded document against the embedded schema.
func validate(doc map[string]any) error {
	ctx := cuecontext.New()
	s := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := s.Err(); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	v := s.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s", cueerrors.Details(err, nil))
	}
	return nil
}
