package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Sternrassler/offline-asset-cache/pkg/cache"
	"github.com/Sternrassler/offline-asset-cache/pkg/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for lifecycle transitions.
var (
	lifecycleEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assetcache_lifecycle_events_total",
		Help: "Total lifecycle events by event and result",
	}, []string{"event", "result"})

	activeControllerInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "assetcache_active_controller_info",
		Help: "Set to 1 for the version of the active controller",
	}, []string{"version"})
)

// ErrNoWaiting is returned by ActivateWaiting when nothing is waiting.
var ErrNoWaiting = errors.New("no waiting controller")

// Registration owns the active and waiting controllers of one scope.
type Registration struct {
	storage cache.Storage
	store   StateStore
	logger  zerolog.Logger

	// mu serialises lifecycle transitions; request routing never takes it.
	mu      sync.Mutex
	waiting *worker.Controller

	active atomic.Pointer[worker.Controller]
	// previous keeps serving sub-resource requests until the active
	// controller claims clients.
	previous atomic.Pointer[worker.Controller]
}

// NewRegistration creates an empty registration.
func NewRegistration(storage cache.Storage, store StateStore, logger zerolog.Logger) *Registration {
	if store == nil {
		store = NewMemoryStateStore()
	}
	return &Registration{
		storage: storage,
		store:   store,
		logger:  logger,
	}
}

// Register installs ctrl and activates it when it asked to skip waiting or
// when nothing is active yet. A version that is already active, in this
// process or according to the persisted state with its partition still
// present, is restored without reinstalling.
func (r *Registration) Register(ctx context.Context, ctrl *worker.Controller) error {
	return r.register(ctx, ctrl, false)
}

// Update is Register that reinstalls even when the version is already active.
func (r *Registration) Update(ctx context.Context, ctrl *worker.Controller) error {
	return r.register(ctx, ctrl, true)
}

func (r *Registration) register(ctx context.Context, ctrl *worker.Controller, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load registration state: %w", err)
	}
	version := ctrl.Version()

	if !force {
		if cur := r.active.Load(); cur != nil && cur.Version() == version {
			r.logger.Debug().Str("version", version).Msg("Controller already active")
			return nil
		}
		if state.ActiveVersion == version {
			complete, err := r.precached(ctx, ctrl)
			if err != nil {
				return fmt.Errorf("check partition %s: %w", version, err)
			}
			if complete {
				r.restore(ctrl)
				lifecycleEventsTotal.WithLabelValues("restore", "success").Inc()
				return nil
			}
			r.logger.Warn().Str("version", version).Msg("Active partition missing or incomplete - reinstalling")
		}
	}

	state.transition(PhaseInstalling)
	if err := r.store.Save(ctx, state); err != nil {
		return fmt.Errorf("save registration state: %w", err)
	}

	ev := worker.NewInstallEvent(ctx)
	ctrl.Install(ev)
	if err := ev.Wait(); err != nil {
		lifecycleEventsTotal.WithLabelValues("install", "error").Inc()
		r.logger.Error().
			Err(err).
			Str("version", version).
			Msg("Install failed - keeping current controller")

		state.transition(PhaseRedundant)
		if serr := r.store.Save(ctx, state); serr != nil {
			r.logger.Warn().Err(serr).Msg("Failed to save registration state")
		}
		return err
	}
	lifecycleEventsTotal.WithLabelValues("install", "success").Inc()

	if ev.SkipWaitingRequested() || r.active.Load() == nil {
		return r.activate(ctx, ctrl, state)
	}

	r.waiting = ctrl
	state.WaitingVersion = version
	state.transition(PhaseInstalled)
	r.logger.Info().Str("version", version).Msg("Controller installed and waiting")
	return r.store.Save(ctx, state)
}

// ActivateWaiting activates the waiting controller.
func (r *Registration) ActivateWaiting(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.waiting == nil {
		return ErrNoWaiting
	}
	state, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load registration state: %w", err)
	}
	return r.activate(ctx, r.waiting, state)
}

// activate dispatches the activate event and swaps the serving controller.
// Like a browser host, a failed activate event still leaves the controller
// active; the error is reported to the caller.
func (r *Registration) activate(ctx context.Context, ctrl *worker.Controller, state *RegistrationState) error {
	version := ctrl.Version()
	state.transition(PhaseActivating)
	if err := r.store.Save(ctx, state); err != nil {
		return fmt.Errorf("save registration state: %w", err)
	}

	var claimed atomic.Bool
	ev := worker.NewActivateEvent(ctx, worker.ClientsFunc(func(context.Context) error {
		claimed.Store(true)
		return nil
	}))
	ctrl.Activate(ev)
	activateErr := ev.Wait()

	prev := r.active.Swap(ctrl)
	if claimed.Load() || prev == nil || prev.Version() == version {
		r.previous.Store(nil)
	} else {
		r.previous.Store(prev)
	}
	if prev != nil {
		activeControllerInfo.DeleteLabelValues(prev.Version())
	}
	activeControllerInfo.WithLabelValues(version).Set(1)

	if r.waiting != nil && r.waiting.Version() == version {
		r.waiting = nil
	}
	if state.WaitingVersion == version {
		state.WaitingVersion = ""
	}
	state.ActiveVersion = version
	state.Claimed = claimed.Load()
	state.transition(PhaseActivated)

	logEvent := r.logger.Info()
	result := "success"
	if activateErr != nil {
		logEvent = r.logger.Error().Err(activateErr)
		result = "error"
	}
	lifecycleEventsTotal.WithLabelValues("activate", result).Inc()
	logEvent.
		Str("version", version).
		Bool("claimed", state.Claimed).
		Msg("Controller activated")

	if err := r.store.Save(ctx, state); err != nil {
		return errors.Join(activateErr, fmt.Errorf("save registration state: %w", err))
	}
	if activateErr != nil {
		return fmt.Errorf("activate %s: %w", version, activateErr)
	}
	return nil
}

// precached reports whether the controller's partition exists and holds
// every manifest entry. An install that failed after opening its partition
// leaves it empty, so existence alone does not prove a completed install.
func (r *Registration) precached(ctx context.Context, ctrl *worker.Controller) (bool, error) {
	exists, err := r.storage.Has(ctx, ctrl.Version())
	if err != nil || !exists {
		return false, err
	}
	partition, err := r.storage.Open(ctx, ctrl.Version())
	if err != nil {
		return false, err
	}
	keys, err := partition.Keys(ctx)
	if err != nil {
		return false, err
	}

	stored := make(map[cache.Key]struct{}, len(keys))
	for _, key := range keys {
		stored[key] = struct{}{}
	}
	for _, req := range ctrl.Manifest() {
		if _, ok := stored[cache.KeyFor(req)]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func (r *Registration) restore(ctrl *worker.Controller) {
	r.active.Store(ctrl)
	r.previous.Store(nil)
	activeControllerInfo.WithLabelValues(ctrl.Version()).Set(1)
	r.logger.Info().Str("version", ctrl.Version()).Msg("Restored active controller")
}

// ControllerFor returns the controller serving a request, or nil when no
// controller is active. Navigations always reach the active controller;
// other requests stay with the previous one until clients are claimed.
func (r *Registration) ControllerFor(navigation bool) *worker.Controller {
	if !navigation {
		if prev := r.previous.Load(); prev != nil {
			return prev
		}
	}
	return r.active.Load()
}

// Active returns the active controller or nil.
func (r *Registration) Active() *worker.Controller {
	return r.active.Load()
}

// Waiting returns the waiting controller or nil.
func (r *Registration) Waiting() *worker.Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// State returns the persisted registration state.
func (r *Registration) State(ctx context.Context) (*RegistrationState, error) {
	return r.store.Load(ctx)
}
