package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/bizcursor/internal/driver"
	"github.com/roach88/bizcursor/internal/schema"
	"github.com/roach88/bizcursor/internal/testutil"
	"github.com/roach88/bizcursor/internal/wire"
)

const configTemplate = `
database:
  driver: sqlite3
  dsn: %DSN%
logging:
  level: warn
objects:
  - name: customers
    table: customers
    key_field: [id]
    auto_populate_pk: true
    fields:
      - [id, I, true, customers, id, 0]
      - [name, C, false, customers, name, 0]
    order_by: ['"id"']
    children:
      - name: orders
        table: orders
        key_field: [id]
        auto_populate_pk: true
        fields:
          - [id, I, true, orders, id, 0]
          - [customer_id, I, false, orders, customer_id, 0]
          - [item, C, false, orders, item, 0]
          - [qty, I, false, orders, qty, 0]
        order_by: ['"id"']
        link_field: customer_id
        fill_link_from_parent: true
        requery_with_parent: true
`

// setupShop creates the fixture database and a config pointing at it.
func setupShop(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "shop.db")
	db, err := driver.OpenSQLite(dbPath, testutil.DiscardLogger())
	require.NoError(t, err)
	for _, q := range testutil.CustomerOrdersSetup {
		_, err := db.Execute(t.Context(), q)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	cfgPath := filepath.Join(dir, "bizcursor.yaml")
	body := strings.ReplaceAll(configTemplate, "%DSN%", dbPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))
	return cfgPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestQueryCommand_Text(t *testing.T) {
	cfg := setupShop(t)
	out, err := execute(t, "-c", cfg, "query", "customers")
	require.NoError(t, err)
	want := "+----+------+\n" +
		"| id | name |\n" +
		"+----+------+\n" +
		"| 1  | Ann  |\n" +
		"| 2  | Bob  |\n" +
		"+----+------+\n" +
		"(2 rows)\n"
	assert.Equal(t, want, out)
}

func TestQueryCommand_JSONWithWhere(t *testing.T) {
	cfg := setupShop(t)
	out, err := execute(t, "-c", cfg, "--format", "json", "query", "customers", "--where", `"name" = 'Bob'`)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   QueryResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"id", "name"}, resp.Data.Columns)
	require.Len(t, resp.Data.Rows, 1)
	assert.Equal(t, "Bob", resp.Data.Rows[0]["name"])
}

func TestQueryCommand_BadWhere(t *testing.T) {
	cfg := setupShop(t)
	out, err := execute(t, "-c", cfg, "query", "customers", "--where", "nosuchcolumn = 1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E040]")
}

func TestQueryCommand_UnknownObject(t *testing.T) {
	cfg := setupShop(t)
	out, err := execute(t, "-c", cfg, "query", "invoices")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E030]")
}

func TestQueryCommand_MissingConfig(t *testing.T) {
	out, err := execute(t, "-c", filepath.Join(t.TempDir(), "none.yaml"), "query", "customers")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}

func TestExportCommand(t *testing.T) {
	cfg := setupShop(t)
	out, err := execute(t, "-c", cfg, "export", "customers")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, `<?xml version="1.0"`))
	assert.Equal(t, 2, strings.Count(out, `<child autopopulate="True" keyfield="id" table="orders">`))
	assert.Contains(t, out, `<column name="item" type="C">plum</column>`)
	assert.Contains(t, out, `<column name="item" type="C">pear</column>`)
}

func TestExportCommand_ToFile(t *testing.T) {
	cfg := setupShop(t)
	target := filepath.Join(t.TempDir(), "customers.xml")
	out, err := execute(t, "-c", cfg, "--format", "json", "export", "customers", "-o", target)
	require.NoError(t, err)

	var resp struct {
		Data ExportResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 2, resp.Data.Rows)
	assert.Equal(t, target, resp.Data.Output)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), `table="customers"`)
}

func TestSchemaCommand(t *testing.T) {
	cfg := setupShop(t)
	out, err := execute(t, "-c", cfg, "schema", "orders")
	require.NoError(t, err)

	var desc schema.Descriptor
	require.NoError(t, yaml.Unmarshal([]byte(out), &desc))
	assert.Equal(t, []string{"id", "customer_id", "item", "qty"}, desc.Aliases())
	f, ok := desc.Field("id")
	require.True(t, ok)
	assert.True(t, f.PK)
}

func TestDiffCommand(t *testing.T) {
	cfg := setupShop(t)
	out, err := execute(t, "-c", cfg, "--format", "json", "diff", "customers", "--row", "1", "--set", "name=Bobby")
	require.NoError(t, err)

	var resp struct {
		Data DiffResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.JSONEq(t,
		`{"data_source":"customers","key_field":["id"],"rows":[{"changes":{"name":{"new":"Bobby","old":"Bob"}},"is_new":false,"key":2}]}`,
		string(resp.Data.Diff))

	d, err := wire.Decode(resp.Data.Diff)
	require.NoError(t, err)
	hash, err := wire.Hash(d)
	require.NoError(t, err)
	assert.Equal(t, hash, resp.Data.Hash)

	// nothing was saved
	again, err := execute(t, "-c", cfg, "query", "customers")
	require.NoError(t, err)
	assert.Contains(t, again, "| Bob  |")
	assert.NotContains(t, again, "Bobby")
}

func TestDiffCommand_BadSet(t *testing.T) {
	cfg := setupShop(t)
	out, err := execute(t, "-c", cfg, "diff", "customers", "--set", "name")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E031]")
}

func TestDiffCommand_UnknownField(t *testing.T) {
	cfg := setupShop(t)
	out, err := execute(t, "-c", cfg, "diff", "customers", "--set", "nickname=B")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E052]")
}
