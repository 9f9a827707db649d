package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gitkarma/engine/api"
	"github.com/gitkarma/engine/gh"
	"github.com/gitkarma/engine/karma"
	"github.com/gitkarma/engine/ledger"
	"github.com/gitkarma/engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type apiEnv struct {
	server  *httptest.Server
	records *karma.MemoryRecords
	ledger  *ledger.Ledger
	sink    *gh.Recorder
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	led := ledger.New(store.NewMemory())
	records := karma.NewMemoryRecords()
	log := zaptest.NewLogger(t)
	defaults := karma.EconomyDefaults{
		InitialGrant:         400,
		MergePenalty:         100,
		ReviewBonus:          50,
		CommentBonus:         5,
		AdminOverrideEnabled: true,
		RecheckToken:         "✨",
		AdminRecheckToken:    "🚀",
	}
	prov := karma.NewProvisioner(led, records, defaults, log)
	sink := gh.NewRecorder()
	caps := gh.StaticCapabilities{Admins: map[string][]string{
		"octocat/engine": {"maintainer"},
	}}
	engine := karma.NewEngine(records, prov, karma.NewGate(led, prov), karma.NewRewarder(led, prov), sink, caps, log)
	handler := api.NewHandler(engine, records, led, caps, log)
	server := httptest.NewServer(api.NewRouter(handler, []string{"*"}))
	t.Cleanup(server.Close)
	return &apiEnv{server: server, records: records, ledger: led, sink: sink}
}

func (e *apiEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *apiEnv) put(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, e.server.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *apiEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func openEnvelope(number int, head string) api.EventEnvelope {
	return api.EventEnvelope{
		Kind:        string(karma.KindPROpened),
		RepoID:      42,
		RepoName:    "engine",
		RepoOwner:   "octocat",
		ActorID:     7,
		ActorLogin:  "alice",
		Number:      number,
		AuthorID:    7,
		AuthorLogin: "alice",
		HeadSHA:     head,
	}
}

// =============================================================================
// WEBHOOKS
// =============================================================================

func TestReceiveEvent_OpenPR_FundsAndAccepts(t *testing.T) {
	// GIVEN: A running daemon
	// WHEN: A pr_opened envelope arrives
	// THEN: 202, the charge applied, effects emitted

	env := newAPIEnv(t)

	resp := env.post(t, "/webhooks/events", openEnvelope(1, "head1"))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	balance, err := env.ledger.Balance(context.Background(), ledger.UserAccountID(7, 42))
	require.NoError(t, err)
	assert.Equal(t, int64(300), balance)
	assert.NotEmpty(t, env.sink.Checks)
}

func TestReceiveEvent_MalformedBody_BadRequest(t *testing.T) {
	env := newAPIEnv(t)

	resp, err := http.Post(env.server.URL+"/webhooks/events", "application/json",
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReceiveEvent_UnknownKind_BadRequest(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.post(t, "/webhooks/events", api.EventEnvelope{Kind: "pr_teleported", RepoID: 42})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode[api.ErrorDTO](t, resp)
	assert.Contains(t, body.Error, "pr_teleported")
}

func TestReceiveEvent_InvalidEvent_BadRequest(t *testing.T) {
	// Structurally sound envelope, semantically invalid event (no head).
	env := newAPIEnv(t)

	resp := env.post(t, "/webhooks/events", openEnvelope(1, ""))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestSettings_GetAfterInstall(t *testing.T) {
	env := newAPIEnv(t)

	env.post(t, "/webhooks/events", api.EventEnvelope{
		Kind: string(karma.KindRepoInstalled), RepoID: 42,
		RepoName: "engine", RepoOwner: "octocat", ActorID: 1, ActorLogin: "octocat",
	})

	resp := env.get(t, "/api/repos/42/settings")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	settings := decode[api.RepoSettingsDTO](t, resp)
	assert.Equal(t, uint64(42), settings.RepoID)
	assert.Equal(t, int64(100), settings.MergePenalty)
	assert.Equal(t, "✨", settings.RecheckToken)
}

func TestSettings_GetUnknownRepo_NotFound(t *testing.T) {
	env := newAPIEnv(t)
	resp := env.get(t, "/api/repos/42/settings")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSettings_UpdateByAdmin_Applies(t *testing.T) {
	// GIVEN: An installed repo
	// WHEN: An admin updates the merge penalty
	// THEN: 200 and the stored config changes

	env := newAPIEnv(t)
	env.post(t, "/webhooks/events", api.EventEnvelope{
		Kind: string(karma.KindRepoInstalled), RepoID: 42,
		RepoName: "engine", RepoOwner: "octocat", ActorID: 1, ActorLogin: "octocat",
	})

	penalty := int64(250)
	disabled := true
	resp := env.put(t, "/api/repos/42/settings", api.UpdateSettingsRequest{
		ActorLogin:   "maintainer",
		MergePenalty: &penalty,
		Disabled:     &disabled,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	settings := decode[api.RepoSettingsDTO](t, resp)
	assert.Equal(t, int64(250), settings.MergePenalty)
	assert.True(t, settings.Disabled)

	stored, err := env.records.GetRepoConfig(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(250), stored.MergePenalty)
	assert.Equal(t, int64(400), stored.InitialGrant, "untouched fields survive")
}

func TestSettings_UpdateTriggerTokens(t *testing.T) {
	// GIVEN: An installed repo
	// WHEN: An admin changes the recheck token
	// THEN: The new token applies; an empty token is rejected

	env := newAPIEnv(t)
	env.post(t, "/webhooks/events", api.EventEnvelope{
		Kind: string(karma.KindRepoInstalled), RepoID: 42,
		RepoName: "engine", RepoOwner: "octocat", ActorID: 1, ActorLogin: "octocat",
	})

	recheck := "♻️"
	resp := env.put(t, "/api/repos/42/settings", api.UpdateSettingsRequest{
		ActorLogin:   "maintainer",
		RecheckToken: &recheck,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	settings := decode[api.RepoSettingsDTO](t, resp)
	assert.Equal(t, "♻️", settings.RecheckToken)
	assert.Equal(t, "🚀", settings.AdminRecheckToken, "unset token keeps its value")

	empty := ""
	resp = env.put(t, "/api/repos/42/settings", api.UpdateSettingsRequest{
		ActorLogin:        "maintainer",
		AdminRecheckToken: &empty,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSettings_UpdateByNonAdmin_Forbidden(t *testing.T) {
	env := newAPIEnv(t)
	env.post(t, "/webhooks/events", api.EventEnvelope{
		Kind: string(karma.KindRepoInstalled), RepoID: 42,
		RepoName: "engine", RepoOwner: "octocat", ActorID: 1, ActorLogin: "octocat",
	})

	penalty := int64(0)
	resp := env.put(t, "/api/repos/42/settings", api.UpdateSettingsRequest{
		ActorLogin:   "alice",
		MergePenalty: &penalty,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	stored, err := env.records.GetRepoConfig(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(100), stored.MergePenalty, "rejected update must not apply")
}

func TestSettings_UpdateNegativeAmount_BadRequest(t *testing.T) {
	env := newAPIEnv(t)
	env.post(t, "/webhooks/events", api.EventEnvelope{
		Kind: string(karma.KindRepoInstalled), RepoID: 42,
		RepoName: "engine", RepoOwner: "octocat", ActorID: 1, ActorLogin: "octocat",
	})

	penalty := int64(-5)
	resp := env.put(t, "/api/repos/42/settings", api.UpdateSettingsRequest{
		ActorLogin:   "maintainer",
		MergePenalty: &penalty,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// BALANCES AND HISTORY
// =============================================================================

func TestBalanceAndHistory(t *testing.T) {
	// GIVEN: A funded PR (grant 400, charge 100)
	// WHEN: Balance and history are read
	// THEN: 300 tokens and two ledger entries

	env := newAPIEnv(t)
	env.post(t, "/webhooks/events", openEnvelope(1, "head1"))

	resp := env.get(t, "/api/repos/42/users/7/balance")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	balance := decode[api.BalanceDTO](t, resp)
	assert.Equal(t, int64(300), balance.Balance)

	resp = env.get(t, "/api/repos/42/users/7/history")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[[]api.TransferDTO](t, resp)
	require.Len(t, history, 2)
	assert.Equal(t, "grant", history[0].Code)
	assert.Equal(t, "charge", history[1].Code)
}

func TestBalance_UnknownUser_NotFound(t *testing.T) {
	env := newAPIEnv(t)
	resp := env.get(t, "/api/repos/42/users/7/balance")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBalance_InvalidID_BadRequest(t *testing.T) {
	env := newAPIEnv(t)
	resp := env.get(t, "/api/repos/abc/users/7/balance")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// OPERATIONAL
// =============================================================================

func TestHealthz(t *testing.T) {
	env := newAPIEnv(t)
	resp := env.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsExposed(t *testing.T) {
	env := newAPIEnv(t)
	env.post(t, "/webhooks/events", openEnvelope(1, "head1"))

	resp := env.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(bytes.Buffer)
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "karma_events_processed_total")
}
