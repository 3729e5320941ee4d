package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalogYAML = `
products:
  - id: prod-x
    name: Product X
    status: active
    base_unit: unit
locations:
  - id: loc-main
    name: Main Warehouse
    status: active
people:
  - id: wh-1
    name: Warehouse Clerk
    role: warehouse
`

const receiveEventJSON = `{
  "id": "evt-1",
  "kind": "receive",
  "product_id": "prod-x",
  "quantity": {"value": "10", "unit": "unit"},
  "to_location": "loc-main",
  "performed_by": "wh-1",
  "occurred_at": "2026-06-01T08:00:00Z"
}`

// cliFixture lays out a temp database, catalog, and event files.
type cliFixture struct {
	db      string
	catalog string
	dir     string
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	dir := t.TempDir()
	catalog := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte(testCatalogYAML), 0o644))
	return &cliFixture{db: filepath.Join(dir, "ledger.db"), catalog: catalog, dir: dir}
}

func (f *cliFixture) writeEvent(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func (f *cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"--db", f.db, "--catalog", f.catalog}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestSubmitMissingDatabaseFlag(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"submit", "--file", "nope.json"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--db is required")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSubmitAcceptsAndDeduplicates(t *testing.T) {
	f := newCLIFixture(t)
	evt := f.writeEvent(t, "receive.json", receiveEventJSON)

	_, err := f.run(t, "init")
	require.NoError(t, err)

	out, err := f.run(t, "submit", "--file", evt)
	require.NoError(t, err)
	assert.Contains(t, out, "accepted")
	assert.Contains(t, out, "commit_seq=1")

	// Resubmission of the same id returns the original commit.
	out, err = f.run(t, "submit", "--file", evt)
	require.NoError(t, err)
	assert.Contains(t, out, "duplicate")
	assert.Contains(t, out, "commit_seq=1")
}

func TestSubmitRejectionExitsNonZero(t *testing.T) {
	f := newCLIFixture(t)
	evt := f.writeEvent(t, "receive.json", receiveEventJSON)
	over := f.writeEvent(t, "issue.json", `{
  "id": "evt-2",
  "kind": "issue",
  "product_id": "prod-x",
  "quantity": {"value": "50", "unit": "unit"},
  "from_location": "loc-main",
  "performed_by": "wh-1",
  "occurred_at": "2026-06-01T09:00:00Z"
}`)

	_, err := f.run(t, "submit", "--file", evt)
	require.NoError(t, err)

	out, err := f.run(t, "submit", "--file", over)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "rejected")
	assert.Contains(t, out, "INSUFFICIENT_QUANTITY")
}

func TestInventoryFoldsSubmittedEvents(t *testing.T) {
	f := newCLIFixture(t)
	evt := f.writeEvent(t, "receive.json", receiveEventJSON)

	_, err := f.run(t, "submit", "--file", evt)
	require.NoError(t, err)

	out, err := f.run(t, "--format", "json", "inventory")
	require.NoError(t, err)
	assert.Contains(t, out, `"prod-x|loc-main|": "10"`)

	// A point in time before the event sees empty inventory.
	out, err = f.run(t, "inventory", "--as-of", "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, "No inventory in scope.")
}

func TestReplayVerifiesCleanLedger(t *testing.T) {
	f := newCLIFixture(t)
	evt := f.writeEvent(t, "receive.json", receiveEventJSON)

	_, err := f.run(t, "submit", "--file", evt)
	require.NoError(t, err)

	_, err = f.run(t, "replay")
	assert.NoError(t, err)
}
