package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-engine/conclave/internal/ports"
)

type stubProfiles struct {
	profile ports.ArchonProfile
}

func (s stubProfiles) GetAll(ctx context.Context) ([]ports.ArchonProfile, error) {
	return []ports.ArchonProfile{s.profile}, nil
}
func (s stubProfiles) Count(ctx context.Context) (int, error) { return 1, nil }
func (s stubProfiles) Get(ctx context.Context, archonID string) (ports.ArchonProfile, error) {
	return s.profile, nil
}

func TestInvokeOpenAICompatibleProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		_ = json.NewEncoder(w).Encode(chatCompletionResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: "STANCE: FOR"}}},
		})
	}))
	defer srv.Close()

	profiles := stubProfiles{profile: ports.ArchonProfile{
		ArchonID: "king-01",
		LLM:      ports.LLMBinding{Provider: "deepseek", Model: "deepseek-chat", BaseURL: srv.URL},
	}}
	client := New(profiles, srv.Client(), 0)

	result, err := client.Invoke(context.Background(), "king-01", "cast your vote", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "STANCE: FOR", result.RawContent)
}

func TestInvokeAnthropicProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		_ = json.NewEncoder(w).Encode(anthropicResponse{
			Content: []struct {
				Text string `json:"text"`
			}{{Text: "STANCE: AGAINST"}},
		})
	}))
	defer srv.Close()

	profiles := stubProfiles{profile: ports.ArchonProfile{
		ArchonID: "king-02",
		LLM:      ports.LLMBinding{Provider: "anthropic", Model: "claude-3-test", BaseURL: srv.URL},
	}}
	client := New(profiles, srv.Client(), 0)

	result, err := client.Invoke(context.Background(), "king-02", "cast your vote", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "STANCE: AGAINST", result.RawContent)
}

func TestExecuteValidationTaskParsesStructuredReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatCompletionResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Content: `{"vote_choice":"AYE","confidence":0.9,"reasoning_summary":"clear aye","ambiguity_flags":[]}`}}},
		})
	}))
	defer srv.Close()

	profiles := stubProfiles{profile: ports.ArchonProfile{
		ArchonID: "deliberator-1",
		LLM:      ports.LLMBinding{Provider: "deepseek", Model: "deepseek-chat", BaseURL: srv.URL},
	}}
	client := New(profiles, srv.Client(), 0)

	result, err := client.ExecuteValidationTask(context.Background(), ports.TaskTextAnalysis, "deliberator-1", ports.VotePayload{
		MotionText: "Shall we proceed?", RawContent: "STANCE: FOR\n{\"choice\":\"AYE\"}",
	})
	require.NoError(t, err)
	assert.True(t, result.ParseSuccess)
	assert.Equal(t, ports.ChoiceAye, result.VoteChoice)
	assert.Equal(t, 0.9, result.Confidence)
}

func TestExecuteValidationTaskUnparseableReplyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatCompletionResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Content: "not json at all"}}},
		})
	}))
	defer srv.Close()

	profiles := stubProfiles{profile: ports.ArchonProfile{
		ArchonID: "deliberator-2",
		LLM:      ports.LLMBinding{Provider: "deepseek", Model: "deepseek-chat", BaseURL: srv.URL},
	}}
	client := New(profiles, srv.Client(), 0)

	result, err := client.ExecuteValidationTask(context.Background(), ports.TaskJSONValidation, "deliberator-2", ports.VotePayload{})
	require.NoError(t, err)
	assert.False(t, result.ParseSuccess)
}

func TestExecuteWitnessAdjudicationParsesStructuredReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatCompletionResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Content: `{"final_vote":"NAY","ruling":"RETORT","retort_reason":"contradicts stance","witness_statement":"..."}`}}},
		})
	}))
	defer srv.Close()

	profiles := stubProfiles{profile: ports.ArchonProfile{
		ArchonID: "witness",
		LLM:      ports.LLMBinding{Provider: "deepseek", Model: "deepseek-chat", BaseURL: srv.URL},
	}}
	client := New(profiles, srv.Client(), 0)

	result, err := client.ExecuteWitnessAdjudication(context.Background(), "witness", ports.VotePayload{}, nil)
	require.NoError(t, err)
	assert.Equal(t, ports.ChoiceNay, result.FinalVote)
	assert.Equal(t, "RETORT", result.Ruling)
}

func TestInvokeRespectsRateLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatCompletionResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Content: "STANCE: FOR"}}},
		})
	}))
	defer srv.Close()

	profiles := stubProfiles{profile: ports.ArchonProfile{
		ArchonID: "king-03",
		LLM:      ports.LLMBinding{Provider: "deepseek", Model: "deepseek-chat", BaseURL: srv.URL},
	}}
	client := New(profiles, srv.Client(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	started := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.Invoke(ctx, "king-03", "cast your vote", time.Second)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(started), 500*time.Millisecond)
}
