package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finmetrics/grounding/internal/service"
	"github.com/finmetrics/grounding/internal/testutil"
)

// TestSystemService_Status tests the status report.
//
// WHY: Operators rely on the status to tell whether answers come from live
// upstream data or from what is already stored.
func TestSystemService_Status(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy with counts", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewTestServices(t, db)
		issuer := testutil.NewIssuer().Build(t, db)
		testutil.NewFact(issuer.ID).Build(t, db)

		info := svc.System.Status(ctx)
		assert.Equal(t, service.StatusHealthy, info.Status)
		assert.Equal(t, "connected", info.Database)
		assert.Equal(t, int64(1), info.Facts)
		assert.Equal(t, int64(1), info.Issuers)
		assert.Positive(t, info.DbVersion)
		require.Len(t, info.Dependencies, 2)
		assert.Equal(t, "filing-source", info.Dependencies[0].Name)
		assert.Len(t, info.Caches, 3)
	})

	t.Run("open breaker degrades", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewTestServices(t, db)
		for range 3 {
			svc.FXGuard.Breaker().Failure()
		}

		info := svc.System.Status(ctx)
		if info.Status != service.StatusDegraded {
			t.Errorf("Expected status %s, got %s", service.StatusDegraded, info.Status)
		}
	})

	t.Run("closed database is unhealthy", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewTestServices(t, db)
		require.NoError(t, db.Close())

		info := svc.System.Status(ctx)
		assert.Equal(t, service.StatusUnhealthy, info.Status)
		assert.Equal(t, "disconnected", info.Database)
		assert.Error(t, svc.System.CheckHealth())
	})
}
