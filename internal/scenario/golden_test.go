package scenario

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGolden_ConcurrentIssueConflict(t *testing.T) {
	result, world, err := Run(context.Background(), concurrentIssueScenario())
	require.NoError(t, err)
	defer world.Close()

	AssertGolden(t, result)
}

func TestGolden_RevokedDeviceQuarantine(t *testing.T) {
	result, world, err := Run(context.Background(), revokedDeviceScenario())
	require.NoError(t, err)
	defer world.Close()

	AssertGolden(t, result)
}
