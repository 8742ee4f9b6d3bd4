package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/catwalk/pkg/catwalk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberworks/ember/internal/config"
	"github.com/emberworks/ember/internal/db"
	"github.com/emberworks/ember/internal/ledger"
	"github.com/emberworks/ember/internal/llm/agent"
	"github.com/emberworks/ember/internal/llm/provider"
	"github.com/emberworks/ember/internal/llm/tools"
	"github.com/emberworks/ember/internal/message"
	"github.com/emberworks/ember/internal/projectstore"
	"github.com/emberworks/ember/internal/proto"
)

type staticLedger struct{ balance float64 }

func (l staticLedger) Deduct(context.Context, string, proto.TurnUsage, ledger.Metadata) (ledger.DeductResult, error) {
	return ledger.DeductResult{Success: true}, nil
}

func (l staticLedger) Balance(string) float64 { return l.balance }

type scriptedProvider struct {
	model  catwalk.Model
	events []provider.ProviderEvent
}

func (p *scriptedProvider) StreamResponse(ctx context.Context, _ []message.Message, _ []tools.BaseTool) <-chan provider.ProviderEvent {
	ch := make(chan provider.ProviderEvent)
	go func() {
		defer close(ch)
		for _, ev := range p.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (p *scriptedProvider) Model() catwalk.Model { return p.model }

func testServerConfig() *config.Config {
	return &config.Config{
		Providers: map[string]config.ProviderConfig{
			"openai": {
				ID:     "openai",
				Type:   catwalk.TypeOpenAI,
				APIKey: "test",
				Models: []catwalk.Model{{
					ID:           "gpt-test",
					Name:         "GPT Test",
					CostPer1MIn:  2.5,
					CostPer1MOut: 10,
				}},
			},
		},
		Primary:            config.SelectedModel{Provider: "openai", Model: "gpt-test"},
		DefaultPlanCeiling: 10,
	}
}

func newTestServer(t *testing.T, balance float64) (*httptest.Server, projectstore.Store, *db.Queries) {
	t.Helper()
	cfg := testServerConfig()
	files := projectstore.NewMemoryStore()
	q := db.New(db.SetupTestDB(t))

	prov := &scriptedProvider{
		model: cfg.Providers["openai"].Models[0],
		events: []provider.ProviderEvent{
			{Type: provider.EventContentDelta, Content: "hello"},
			{Type: provider.EventComplete, Response: &provider.ProviderResponse{
				Usage:        provider.TokenUsage{InputTokens: 10, OutputTokens: 5},
				FinishReason: message.FinishReasonEndTurn,
			}},
		},
	}
	ag := agent.New(cfg, staticLedger{balance: balance}, files, q,
		agent.WithProviderFactory(func(config.ProviderConfig, catwalk.Model, ...provider.ProviderClientOption) (provider.Provider, error) {
			return prov, nil
		}),
	)

	s := NewServer(cfg, ag, files, q, "tcp", "127.0.0.1:0")
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, files, q
}

func postTurn(t *testing.T, ts *httptest.Server, req proto.TurnRequest) *http.Response {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	rsp, err := http.Post(ts.URL+"/v1/turns", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return rsp
}

func readSSE(t *testing.T, rsp *http.Response) []proto.TurnEvent {
	t.Helper()
	defer rsp.Body.Close()

	var events []proto.TurnEvent
	scr := bufio.NewScanner(rsp.Body)
	for scr.Scan() {
		line := strings.TrimSpace(scr.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var ev proto.TurnEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(data)), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scr.Err())
	return events
}

func TestHealth(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t, 100)

	rsp, err := http.Get(ts.URL + "/v1/health")
	require.NoError(t, err)
	defer rsp.Body.Close()
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
}

func TestVersion(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t, 100)

	rsp, err := http.Get(ts.URL + "/v1/version")
	require.NoError(t, err)
	defer rsp.Body.Close()

	var vi proto.VersionInfo
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&vi))
	assert.NotEmpty(t, vi.GoVersion)
}

func TestPostTurnsStreamsEvents(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t, 100)

	rsp := postTurn(t, ts, proto.TurnRequest{
		UserID:  "user-1",
		Plan:    "pro",
		Content: "hi",
	})
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Equal(t, "text/event-stream", rsp.Header.Get("Content-Type"))

	events := readSSE(t, rsp)
	require.NotEmpty(t, events)
	assert.Equal(t, proto.TurnEventTextDelta, events[0].Type)
	assert.Equal(t, "hello", events[0].Text)
	assert.Equal(t, proto.TurnEventDone, events[len(events)-1].Type)
}

func TestPostTurnsValidation(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t, 100)

	rsp := postTurn(t, ts, proto.TurnRequest{Plan: "pro", Content: "hi"})
	defer rsp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)

	rsp = postTurn(t, ts, proto.TurnRequest{UserID: "user-1", Plan: "pro"})
	defer rsp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)
}

func TestPostTurnsRejectsWithoutCredits(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t, 0)

	rsp := postTurn(t, ts, proto.TurnRequest{
		UserID:  "user-1",
		Plan:    "pro",
		Content: "hi",
	})
	defer rsp.Body.Close()
	assert.Equal(t, http.StatusPaymentRequired, rsp.StatusCode)

	var e proto.Error
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&e))
	assert.Contains(t, e.Message, "credits")
}

func TestGetProjectFiles(t *testing.T) {
	t.Parallel()
	ts, files, _ := newTestServer(t, 100)
	files.Set("proj-1", "main.go", "package main")

	rsp, err := http.Get(ts.URL + "/v1/projects/proj-1/files")
	require.NoError(t, err)
	defer rsp.Body.Close()

	var snapshot map[string]string
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&snapshot))
	assert.Equal(t, map[string]string{"main.go": "package main"}, snapshot)
}

func TestGetUserLedger(t *testing.T) {
	t.Parallel()
	ts, _, q := newTestServer(t, 100)
	require.NoError(t, q.CreateLedgerEntry(t.Context(), db.LedgerEntry{
		ID:           "entry-1",
		UserID:       "user-1",
		ModelID:      "gpt-test",
		InputTokens:  4200,
		OutputTokens: 800,
		Steps:        3,
		Outcome:      "success",
		CreditsUsed:  1.85,
		BalanceAfter: 98.15,
	}))

	rsp, err := http.Get(ts.URL + "/v1/users/user-1/ledger")
	require.NoError(t, err)
	defer rsp.Body.Close()
	require.Equal(t, http.StatusOK, rsp.StatusCode)

	body, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)

	// Rows go out in the wire shape, not as raw storage structs.
	var raw []map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	require.Len(t, raw, 1)
	assert.Contains(t, raw[0], "user_id")
	assert.Contains(t, raw[0], "model_id")
	assert.Contains(t, raw[0], "credits_used")

	var entries []proto.LedgerEntry
	require.NoError(t, json.Unmarshal(body, &entries))
	assert.Equal(t, "gpt-test", entries[0].ModelID)
	assert.Equal(t, int64(4200), entries[0].InputTokens)
	assert.Equal(t, 1.85, entries[0].CreditsUsed)
}

func TestGetUserLedgerEmpty(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t, 100)

	rsp, err := http.Get(ts.URL + "/v1/users/nobody/ledger")
	require.NoError(t, err)
	defer rsp.Body.Close()
	require.Equal(t, http.StatusOK, rsp.StatusCode)

	var entries []proto.LedgerEntry
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&entries))
	assert.Empty(t, entries)
}
