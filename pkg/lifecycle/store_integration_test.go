//go:build integration

package lifecycle

import (
	"context"
	"os"
	"testing"

	"github.com/Sternrassler/offline-asset-cache/internal/testutil"
	"github.com/Sternrassler/offline-asset-cache/pkg/cache"
	"github.com/rs/zerolog"
)

func TestRedisStateStore_Integration_RoundTrip(t *testing.T) {
	_, redisClient := testutil.RedisContainer(t)

	testStateStoreRoundTrip(t, NewRedisStateStore(redisClient, "integration"))
}

func TestRegistration_Integration_RestoreAcrossInstances(t *testing.T) {
	_, redisClient := testutil.RedisContainer(t)

	ctx := context.Background()
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	storage := cache.NewRedisStorage(redisClient, "integration")
	o := &origin{}

	first := NewRegistration(storage, NewRedisStateStore(redisClient, "integration"), logger)
	if err := first.Register(ctx, newController(t, storage, o, "v1", false)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	calls := o.calls.Load()

	// a second proxy instance sharing the same Redis
	second := NewRegistration(storage, NewRedisStateStore(redisClient, "integration"), logger)
	ctrl := newController(t, storage, o, "v1", false)
	if err := second.Register(ctx, ctrl); err != nil {
		t.Fatalf("Register second: %v", err)
	}
	if o.calls.Load() != calls {
		t.Error("second instance reinstalled an active version")
	}
	if second.Active() != ctrl {
		t.Error("second instance did not restore the controller")
	}

	state, err := second.State(ctx)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.ActiveVersion != "v1" || state.Phase != PhaseActivated {
		t.Errorf("state = %+v", state)
	}
}
