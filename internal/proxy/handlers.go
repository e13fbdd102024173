package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Unjuno/FLM-sub001/internal/engines"
	"github.com/Unjuno/FLM-sub001/internal/flmerr"
)

// writeError renders the JSON error envelope used across the HTTP surface
// (the same {"code","message"} shape the CLI's JSON output uses, per
// spec §4.8/§7).
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

func writeFlmerr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := string(flmerr.KindInternal)
	var fe *flmerr.Error
	if errors.As(err, &fe) {
		code = fe.Code()
		switch fe.Kind {
		case flmerr.KindNotFound:
			status = http.StatusNotFound
		case flmerr.KindAuth:
			status = http.StatusUnauthorized
		case flmerr.KindBlocked:
			status = http.StatusForbidden
		case flmerr.KindRateLimited:
			status = http.StatusTooManyRequests
		case flmerr.KindConfig, flmerr.KindPolicy:
			status = http.StatusBadRequest
		}
	}
	writeError(w, status, code, err.Error())
}

// handleChatCompletions serves POST /v1/chat/completions, parsing the
// public model id ("flm://{engine_id}/{name}") to select the driver, then
// either returning a unary JSON response or streaming Server-Sent Events,
// mirroring the OpenAI streaming chunk shape used throughout the driver
// layer.
func (c *Controller) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var body gatewayChatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}

	engineID, _, ok := splitModelID(body.Model)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "model must be of the form flm://{engine_id}/{name}")
		return
	}

	msgs := make([]engines.Message, len(body.Messages))
	for i, m := range body.Messages {
		msgs[i] = engines.Message{Role: m.Role, Content: m.Content}
	}
	req := engines.ChatRequest{
		EngineID: engineID, ModelID: body.Model, Messages: msgs,
		Temperature: body.Temperature, MaxTokens: body.MaxTokens,
	}

	if body.Stream {
		c.streamChat(w, r, req, body.Model)
		return
	}

	resp, err := c.registry.Chat(r.Context(), req)
	if err != nil {
		writeFlmerr(w, err)
		return
	}

	out := gatewayChatResponse{
		ID: "chatcmpl-" + uuid.NewString(), Object: "chat.completion", Model: body.Model,
		Choices: []gatewayChoice{{Message: gatewayMsg{Role: "assistant", Content: resp.Content}, FinishReason: resp.FinishReason}},
		Usage:   gatewayUsage{PromptTokens: resp.PromptTokens, OutputTokens: resp.OutputTokens, TotalTokens: resp.PromptTokens + resp.OutputTokens},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (c *Controller) streamChat(w http.ResponseWriter, r *http.Request, req engines.ChatRequest, model string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported by this response writer")
		return
	}
	ch, err := c.registry.ChatStream(r.Context(), req)
	if err != nil {
		writeFlmerr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	id := "chatcmpl-" + uuid.NewString()
	for chunk := range ch {
		if chunk.ParseError != nil {
			continue
		}
		var finish *string
		if chunk.IsDone {
			done := "stop"
			finish = &done
		}
		payload := gatewayStreamChunk{
			ID: id, Object: "chat.completion.chunk", Model: model,
			Choices: []gatewayStreamChoice{{Delta: gatewayDelta{Content: chunk.Delta}, FinishReason: finish}},
		}
		b, _ := json.Marshal(payload)
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
		if chunk.IsDone {
			break
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (c *Controller) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := c.registry.ListAllModels(r.Context())
	if err != nil {
		writeFlmerr(w, err)
		return
	}
	out := gatewayModelsResponse{Object: "list"}
	for _, m := range models {
		out.Data = append(out.Data, gatewayModel{ID: m.ModelID, Object: "model"})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (c *Controller) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var body gatewayEmbeddingsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	engineID, _, ok := splitModelID(body.Model)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "model must be of the form flm://{engine_id}/{name}")
		return
	}
	resp, err := c.registry.Embeddings(r.Context(), engines.EmbeddingsRequest{
		EngineID: engineID, ModelID: body.Model, Inputs: body.Input,
	})
	if err != nil {
		writeFlmerr(w, err)
		return
	}
	out := gatewayEmbeddingsResponse{Object: "list"}
	for i, v := range resp.Vectors {
		out.Data = append(out.Data, gatewayEmbeddingEntry{Index: i, Embedding: v})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func splitModelID(modelID string) (engineID, name string, ok bool) {
	const prefix = "flm://"
	if !strings.HasPrefix(modelID, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(modelID, prefix)
	idx := strings.Index(rest, "/")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

// wellKnownACMEPath is the HTTP-01 challenge path served on the plaintext
// port regardless of the handle's TLS mode, per spec §4.7.
const wellKnownACMEPathPrefix = "/.well-known/acme-challenge/"

func (c *Controller) handleACMEChallenge(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, wellKnownACMEPathPrefix)
	keyAuth, ok := c.acmeChallenges.Load(token)
	if !ok {
		http.NotFound(w, r)
		return
	}
	io.Copy(io.Discard, r.Body)
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, keyAuth.(string))
}
