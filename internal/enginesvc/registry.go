// Package enginesvc implements the Engine Service (C4): a registry of
// driver instances keyed by engine id, engine detection, and
// request-dispatch with health-log recording. The registry-by-id,
// NotFound-on-miss dispatch pattern follows the Proxy Service's
// handle_id -> RunningHandle map described in spec §4.5, applied here to
// engine_id -> Driver instead.
package enginesvc

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Unjuno/FLM-sub001/internal/engines"
	"github.com/Unjuno/FLM-sub001/internal/flmerr"
	"github.com/Unjuno/FLM-sub001/internal/ports"
)

// BinaryProbe describes one backend binary/runtime to scan for.
type BinaryProbe struct {
	EngineID   string
	Kind       ports.EngineKind
	BinaryName string
	HTTPProbe  string // base URL to probe for a running instance, empty to skip
}

// Registry owns the live driver instances and dispatches requests to them.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]engines.Driver

	configRepo ports.ConfigRepo
	logger     *zap.Logger
	probes     []BinaryProbe
}

func NewRegistry(configRepo ports.ConfigRepo, logger *zap.Logger, probes []BinaryProbe) *Registry {
	return &Registry{
		drivers:    make(map[string]engines.Driver),
		configRepo: configRepo,
		logger:     logger.Named("enginesvc"),
		probes:     probes,
	}
}

// Register adds or replaces the driver instance for its own id.
func (r *Registry) Register(d engines.Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.ID()] = d
}

// Unregister removes a driver instance.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.drivers, id)
}

// SetEgressDialer applies dial to every registered driver that implements
// engines.DialConfigurable, redirecting upstream dispatch onto the active
// proxy handle's configured egress path (direct/Tor/custom SOCKS5) per
// spec §4.5. Drivers are shared across the whole process, so the most
// recently started handle's egress config wins; FLM only ever runs one
// handle's egress policy at a time in practice.
func (r *Registry) SetEgressDialer(dial engines.DialFunc) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.drivers {
		if dc, ok := d.(engines.DialConfigurable); ok {
			dc.SetDialContext(dial)
		}
	}
}

func (r *Registry) lookup(id string) (engines.Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[id]
	if !ok {
		return nil, flmerr.New(flmerr.KindNotFound, "engine "+id+" is not registered")
	}
	return d, nil
}

// DetectEngines combines binary-on-PATH detection with running-HTTP
// detection for each configured probe. When both match for the same
// engine id, the runtime (HTTP) observation wins, per spec §4.3. The step
// is idempotent: running it twice yields the same EngineState set absent
// environment changes.
func (r *Registry) DetectEngines(ctx context.Context) ([]ports.EngineState, error) {
	var states []ports.EngineState
	for _, p := range r.probes {
		state := ports.EngineState{ID: p.EngineID, Kind: p.Kind, Name: p.EngineID}

		binaryFound := false
		if p.BinaryName != "" {
			if _, err := exec.LookPath(p.BinaryName); err == nil {
				binaryFound = true
				state.Status = ports.EngineInstalledOnly
			}
		}

		if d, err := r.lookup(p.EngineID); err == nil {
			health, herr := d.HealthCheck(ctx)
			errorRate := 0.0
			switch {
			case herr != nil:
				state.Status = ports.EngineErrorNetwork
				state.Reason = herr.Error()
				state.ConsecutiveFailures++
				errorRate = 1.0
			case health.Status == ports.EngineRunningDegraded:
				state.Status = ports.EngineRunningDegraded
				state.LatencyMs = health.LatencyMs
				state.Reason = health.Reason
				errorRate = 0.1
			default:
				state.Status = ports.EngineRunningHealthy
				state.LatencyMs = health.LatencyMs
			}
			state.Capabilities = d.Capabilities()

			if r.configRepo != nil {
				_ = r.configRepo.AppendHealthLog(ctx, ports.HealthLogRow{
					ID: uuid.NewString(), EngineID: p.EngineID, ErrorRate: errorRate, CreatedAt: time.Now().UTC(),
				})
			}
		} else if !binaryFound {
			continue // neither a binary nor a running instance: nothing to report
		}

		states = append(states, state)
		if r.configRepo != nil {
			if err := r.configRepo.SaveEngineState(ctx, state); err != nil {
				r.logger.Warn("failed to persist engine state", zap.String("engine_id", p.EngineID), zap.Error(err))
			}
		}
	}
	return states, nil
}

func (r *Registry) ListModels(ctx context.Context, engineID string) ([]ports.ModelInfo, error) {
	d, err := r.lookup(engineID)
	if err != nil {
		return nil, err
	}
	return d.ListModels(ctx)
}

// ListAllModels aggregates ListModels across every registered driver,
// skipping (and logging) any single engine's failure rather than aborting
// the whole listing.
func (r *Registry) ListAllModels(ctx context.Context) ([]ports.ModelInfo, error) {
	r.mu.RLock()
	drivers := make([]engines.Driver, 0, len(r.drivers))
	for _, d := range r.drivers {
		drivers = append(drivers, d)
	}
	r.mu.RUnlock()

	var all []ports.ModelInfo
	for _, d := range drivers {
		models, err := d.ListModels(ctx)
		if err != nil {
			r.logger.Warn("list_models failed", zap.String("engine_id", d.ID()), zap.Error(err))
			continue
		}
		all = append(all, models...)
	}
	return all, nil
}

func (r *Registry) Chat(ctx context.Context, req engines.ChatRequest) (engines.ChatResponse, error) {
	d, err := r.lookup(req.EngineID)
	if err != nil {
		return engines.ChatResponse{}, err
	}
	return d.Chat(ctx, req)
}

func (r *Registry) ChatStream(ctx context.Context, req engines.ChatRequest) (<-chan engines.StreamChunk, error) {
	d, err := r.lookup(req.EngineID)
	if err != nil {
		return nil, err
	}
	return d.ChatStream(ctx, req)
}

func (r *Registry) Embeddings(ctx context.Context, req engines.EmbeddingsRequest) (engines.EmbeddingsResponse, error) {
	d, err := r.lookup(req.EngineID)
	if err != nil {
		return engines.EmbeddingsResponse{}, err
	}
	return d.Embeddings(ctx, req)
}

func (r *Registry) TranscribeAudio(ctx context.Context, req engines.TranscriptionRequest) (engines.TranscriptionResponse, error) {
	d, err := r.lookup(req.EngineID)
	if err != nil {
		return engines.TranscriptionResponse{}, err
	}
	return d.TranscribeAudio(ctx, req)
}
