package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Unjuno/FLM-sub001/internal/ports"
)

func TestDefaultEngineEndpoints_CoversAllFourBackends(t *testing.T) {
	eps := DefaultEngineEndpoints()
	assert.Len(t, eps, 4)
	kinds := map[ports.EngineKind]bool{}
	for _, e := range eps {
		kinds[e.Kind] = true
		assert.NotEmpty(t, e.BaseURL)
		assert.NotEmpty(t, e.ID)
	}
	assert.True(t, kinds[ports.EngineOllama])
	assert.True(t, kinds[ports.EngineVLLM])
	assert.True(t, kinds[ports.EngineLMStudio])
	assert.True(t, kinds[ports.EngineLlamaCpp])
}

func TestBinaryNameFor(t *testing.T) {
	assert.Equal(t, "ollama", binaryNameFor(ports.EngineOllama))
	assert.Equal(t, "llama-server", binaryNameFor(ports.EngineLlamaCpp))
	assert.Equal(t, "", binaryNameFor(ports.EngineVLLM))
	assert.Equal(t, "", binaryNameFor(ports.EngineLMStudio))
}

func TestDriverFor_ReturnsNilForUnknownKind(t *testing.T) {
	d := driverFor(EngineEndpoint{ID: "x", Kind: "unknown", BaseURL: "http://x"})
	assert.Nil(t, d)
}

func TestDriverFor_BuildsDriverForEachKnownKind(t *testing.T) {
	for _, e := range DefaultEngineEndpoints() {
		d := driverFor(e)
		assert.NotNil(t, d)
		assert.Equal(t, e.ID, d.ID())
	}
}
