package scenario

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// AssertGolden compares a scenario result against its golden file under
// testdata/golden/<name>.golden. Regenerate with go test -update.
func AssertGolden(t *testing.T, result *Result) {
	t.Helper()

	data, err := json.MarshalIndent(result, "", "  ")
	require.NoError(t, err)
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, result.Name, data)
}
