package enginesvc

import (
	"context"
	"net"
	"testing"

	"go.uber.org/zap"

	"github.com/Unjuno/FLM-sub001/internal/engines"
	"github.com/Unjuno/FLM-sub001/internal/ports"
)

type fakeDriver struct {
	id      string
	healthy bool
}

func (f *fakeDriver) ID() string                         { return f.id }
func (f *fakeDriver) Kind() ports.EngineKind              { return ports.EngineOllama }
func (f *fakeDriver) Capabilities() ports.Capabilities    { return ports.Capabilities{Chat: true} }
func (f *fakeDriver) HealthCheck(ctx context.Context) (engines.HealthResult, error) {
	if f.healthy {
		return engines.HealthResult{Status: ports.EngineRunningHealthy, LatencyMs: 5}, nil
	}
	return engines.HealthResult{Status: ports.EngineErrorNetwork}, errUnhealthy
}
func (f *fakeDriver) ListModels(ctx context.Context) ([]ports.ModelInfo, error) { return nil, nil }
func (f *fakeDriver) Chat(ctx context.Context, req engines.ChatRequest) (engines.ChatResponse, error) {
	return engines.ChatResponse{Content: "hi"}, nil
}
func (f *fakeDriver) ChatStream(ctx context.Context, req engines.ChatRequest) (<-chan engines.StreamChunk, error) {
	return nil, nil
}
func (f *fakeDriver) Embeddings(ctx context.Context, req engines.EmbeddingsRequest) (engines.EmbeddingsResponse, error) {
	return engines.EmbeddingsResponse{}, nil
}
func (f *fakeDriver) TranscribeAudio(ctx context.Context, req engines.TranscriptionRequest) (engines.TranscriptionResponse, error) {
	return engines.TranscriptionResponse{}, nil
}

var errUnhealthy = &fakeErr{"unreachable"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

func TestRegistry_DispatchNotFound(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop(), nil)
	if _, err := r.Chat(context.Background(), engines.ChatRequest{EngineID: "missing"}); err == nil {
		t.Fatal("expected NotFound error for unregistered engine")
	}
}

func TestRegistry_DispatchDelegates(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop(), nil)
	r.Register(&fakeDriver{id: "ollama", healthy: true})

	resp, err := r.Chat(context.Background(), engines.ChatRequest{EngineID: "ollama"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hi" {
		t.Fatalf("expected delegated response, got %q", resp.Content)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop(), nil)
	r.Register(&fakeDriver{id: "ollama", healthy: true})
	r.Unregister("ollama")
	if _, err := r.Chat(context.Background(), engines.ChatRequest{EngineID: "ollama"}); err == nil {
		t.Fatal("expected NotFound after unregister")
	}
}

// dialConfigurableDriver is a fakeDriver that also implements
// engines.DialConfigurable, so SetEgressDialer has something to find.
type dialConfigurableDriver struct {
	fakeDriver
	lastDial engines.DialFunc
}

func (f *dialConfigurableDriver) SetDialContext(dial engines.DialFunc) {
	f.lastDial = dial
}

func TestRegistry_SetEgressDialer(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop(), nil)
	configurable := &dialConfigurableDriver{fakeDriver: fakeDriver{id: "vllm", healthy: true}}
	plain := &fakeDriver{id: "ollama", healthy: true}
	r.Register(configurable)
	r.Register(plain)

	called := false
	dial := engines.DialFunc(func(ctx context.Context, network, addr string) (net.Conn, error) {
		called = true
		return nil, nil
	})
	r.SetEgressDialer(dial)

	if configurable.lastDial == nil {
		t.Fatal("expected SetDialContext to be called on the configurable driver")
	}
	if _, err := configurable.lastDial(context.Background(), "tcp", "example.com:443"); err != nil {
		t.Fatalf("unexpected error invoking captured dialer: %v", err)
	}
	if !called {
		t.Fatal("expected the captured dialer to be the one passed to SetEgressDialer")
	}
	// plain (non-configurable) driver must not panic or be affected; nothing
	// to assert on it beyond SetEgressDialer completing without error.
}
