/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- User hierarchy endpoints (create, descendants, upline moves, cycles)
- Profile validation and creation
- Live evaluation of a profile
- Manual batch run: wallet credit, bonus records and run history
- Report endpoint
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/incentive-engine/incentive"
	"github.com/warp/incentive-engine/incentive/store"
	"github.com/warp/incentive-engine/internal/metrics"
)

// Wednesday
var wednesday = time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)

type testEnv struct {
	backend *store.Memory
	router  http.Handler
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{backend: store.NewMemory(), now: wednesday}
	clock := func() time.Time { return env.now }

	ids := 0
	processor := &incentive.Processor{
		Store: env.backend,
		Writer: &incentive.Writer{NewID: func() string {
			ids++
			return fmt.Sprintf("id-%d", ids)
		}},
		Clock: clock,
	}
	scheduler := NewBatchScheduler(env.backend, processor, nil)
	scheduler.Clock = clock

	h := NewHandler(env.backend, scheduler, nil)
	h.Clock = clock

	env.router = NewRouter(h, RouterOptions{Metrics: metrics.New().Handler()})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e *testEnv) mustCreate(t *testing.T, path string, body any) {
	t.Helper()
	rec := e.do(t, http.MethodPost, path, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// seedMember creates agent-1 with member-1 below it, a bonus wallet for
// member-1 and a weekly gross deposit profile created on wednesday.
func (e *testEnv) seedMember(t *testing.T) {
	t.Helper()
	e.mustCreate(t, "/api/users", CreateUserRequest{ID: "agent-1", Name: "Agent", Role: "agent"})
	e.mustCreate(t, "/api/users", CreateUserRequest{ID: "member-1", Name: "Member", UplineID: "agent-1"})
	e.mustCreate(t, "/api/users/member-1/wallets", map[string]any{})

	e.mustCreate(t, "/api/users/member-1/transactions", map[string]any{
		"id": "tx-1", "type": "deposit", "amount": "1200", "transaction_at": "2026-03-03T09:00:00Z",
	})
	e.mustCreate(t, "/api/users/member-1/transactions", map[string]any{
		"id": "tx-2", "type": "deposit", "amount": "500", "status": "pending", "transaction_at": "2026-03-03T10:00:00Z",
	})
	e.mustCreate(t, "/api/users/agent-1/transactions", map[string]any{
		"id": "tx-3", "type": "deposit", "amount": "800", "transaction_at": "2026-03-03T11:00:00Z",
	})

	e.mustCreate(t, "/api/profiles", map[string]any{
		"id":                     "inc-1",
		"user_id":                "member-1",
		"sales_calculation_mode": "personal",
		"sales_category":         "gross_deposit",
		"target_amount":          1000,
		"incentive_rate":         5,
		"calculation_threshold":  80,
		"calculation_period":     "weekly_sunday",
	})
}

// =============================================================================
// USERS AND HIERARCHY
// =============================================================================

func TestUsers_HierarchyEndpoints(t *testing.T) {
	// GIVEN: agent-1 > member-1 > member-2
	env := newTestEnv(t)
	env.mustCreate(t, "/api/users", CreateUserRequest{ID: "agent-1", Name: "Agent", Role: "agent"})
	env.mustCreate(t, "/api/users", CreateUserRequest{ID: "member-1", Name: "M1", UplineID: "agent-1"})
	env.mustCreate(t, "/api/users", CreateUserRequest{ID: "member-2", Name: "M2", UplineID: "member-1"})

	// WHEN: Listing descendants of the agent
	rec := env.do(t, http.MethodGet, "/api/users/agent-1/descendants", nil)

	// THEN: Both members are returned
	require.Equal(t, http.StatusOK, rec.Code)
	d := decodeBody[DescendantsDTO](t, rec)
	assert.ElementsMatch(t, []string{"member-1", "member-2"}, d.Descendants)

	// WHEN: Moving the agent below its own descendant
	rec = env.do(t, http.MethodPut, "/api/users/agent-1/upline", SetUplineRequest{UplineID: "member-2"})

	// THEN: The cycle is rejected
	assert.Equal(t, http.StatusConflict, rec.Code)

	// WHEN: Detaching member-2 from the tree
	rec = env.do(t, http.MethodPut, "/api/users/member-2/upline", SetUplineRequest{})
	require.Equal(t, http.StatusOK, rec.Code)

	// THEN: The agent has only member-1 below it
	d = decodeBody[DescendantsDTO](t, env.do(t, http.MethodGet, "/api/users/agent-1/descendants", nil))
	assert.Equal(t, []string{"member-1"}, d.Descendants)
}

func TestUsers_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, "/api/users", CreateUserRequest{ID: "u1", Name: "User"})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"duplicate id", http.MethodPost, "/api/users", CreateUserRequest{ID: "u1", Name: "Again"}, http.StatusConflict},
		{"unknown upline", http.MethodPost, "/api/users", CreateUserRequest{ID: "u2", Name: "X", UplineID: "ghost"}, http.StatusNotFound},
		{"missing name", http.MethodPost, "/api/users", map[string]string{"id": "u3"}, http.StatusBadRequest},
		{"bad role", http.MethodPost, "/api/users", CreateUserRequest{ID: "u4", Name: "X", Role: "boss"}, http.StatusBadRequest},
		{"unknown user", http.MethodGet, "/api/users/ghost", nil, http.StatusNotFound},
		{"transaction for unknown user", http.MethodPost, "/api/users/ghost/transactions",
			map[string]any{"type": "deposit", "amount": "10", "transaction_at": "2026-03-03T09:00:00Z"}, http.StatusNotFound},
		{"transaction without date", http.MethodPost, "/api/users/u1/transactions",
			map[string]any{"type": "deposit", "amount": "10"}, http.StatusBadRequest},
		{"transaction with unknown type", http.MethodPost, "/api/users/u1/transactions",
			map[string]any{"type": "bonus_in", "amount": "10", "transaction_at": "2026-03-03T09:00:00Z"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

// =============================================================================
// PROFILES
// =============================================================================

func TestCreateProfile_SetsInitialSchedule(t *testing.T) {
	// GIVEN: A user
	env := newTestEnv(t)
	env.seedMember(t)

	// WHEN: Reading the profile created on a Wednesday
	rec := env.do(t, http.MethodGet, "/api/profiles/inc-1", nil)

	// THEN: The next payout is the following Sunday
	require.Equal(t, http.StatusOK, rec.Code)
	var p map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "2026-03-08T00:00:00Z", p["next_payout_date"])
	assert.Equal(t, "2026-03-04T10:30:00Z", p["last_payout_date"])

	// AND: The profile is listed under its owner only
	all := decodeBody[[]map[string]any](t, env.do(t, http.MethodGet, "/api/profiles?user_id=member-1", nil))
	assert.Len(t, all, 1)
	none := decodeBody[[]map[string]any](t, env.do(t, http.MethodGet, "/api/profiles?user_id=agent-1", nil))
	assert.Empty(t, none)
}

func TestCreateProfile_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, "/api/users", CreateUserRequest{ID: "u1", Name: "User"})

	// WHEN: Posting a profile with an unknown period and category
	rec := env.do(t, http.MethodPost, "/api/profiles", map[string]any{
		"user_id":                "u1",
		"sales_calculation_mode": "personal",
		"sales_category":         "crypto",
		"target_amount":          100,
		"incentive_rate":         1,
		"calculation_threshold":  50,
		"calculation_period":     "daily",
	})

	// THEN: 400 with one detail per broken field
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[struct {
		Error   string              `json:"error"`
		Details []map[string]string `json:"details"`
	}](t, rec)
	fields := map[string]string{}
	for _, d := range body.Details {
		fields[d["field"]] = d["rule"]
	}
	assert.Equal(t, "sales_category", fields["sales_category"])
	assert.Equal(t, "oneof", fields["calculation_period"])

	// WHEN: Posting a valid profile for a user that does not exist
	rec = env.do(t, http.MethodPost, "/api/profiles", map[string]any{
		"user_id":                "ghost",
		"sales_calculation_mode": "personal",
		"sales_category":         "gross_deposit",
		"target_amount":          100,
		"incentive_rate":         1,
		"calculation_threshold":  50,
		"calculation_period":     "weekly_sunday",
	})

	// THEN: 404
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvaluateProfile_LiveWindow(t *testing.T) {
	// GIVEN: member-1 deposited 1200 (successful) and 500 (pending) on Tuesday
	env := newTestEnv(t)
	env.seedMember(t)

	// WHEN: Evaluating on Friday noon
	rec := env.do(t, http.MethodGet, "/api/profiles/inc-1/evaluation?as_of=2026-03-06T12:00:00Z", nil)

	// THEN: Only the successful deposit of member-1 counts, window runs from Monday
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[ResultDTO](t, rec)
	assert.Equal(t, "2026-03-02T00:00:00Z", res.Window.Start)
	assert.Equal(t, "2026-03-06T11:59:59Z", res.Window.End)
	assert.Equal(t, "1200", res.AchievedAmount.String())
	assert.Equal(t, "120", res.AchievedPercentage.String())
	assert.Equal(t, "60", res.IncentiveAmount.String())
	assert.True(t, res.Qualified)
	assert.Equal(t, 1, res.Participants)

	// AND: Evaluation does not write anything
	records := decodeBody[[]BonusRecordDTO](t, env.do(t, http.MethodGet, "/api/profiles/inc-1/bonus-records", nil))
	assert.Empty(t, records)
}

func TestEvaluateProfile_BadAsOf(t *testing.T) {
	env := newTestEnv(t)
	env.seedMember(t)

	rec := env.do(t, http.MethodGet, "/api/profiles/inc-1/evaluation?as_of=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/profiles/nope/evaluation", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// BATCH
// =============================================================================

func TestRunBatch_PaysDueProfile(t *testing.T) {
	// GIVEN: A weekly profile due Sunday 2026-03-08
	env := newTestEnv(t)
	env.seedMember(t)

	// WHEN: The batch runs on Sunday at midnight
	env.now = time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	rec := env.do(t, http.MethodPost, "/api/batch/run", nil)

	// THEN: The profile is paid 5% of 1200
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decodeBody[RunDTO](t, rec)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, 1, run.Processed)
	assert.Equal(t, 1, run.Paid)
	require.Len(t, run.Outcomes, 1)
	assert.Equal(t, "paid", run.Outcomes[0].Outcome)
	assert.Equal(t, "60", run.Outcomes[0].IncentiveAmount.String())
	assert.Equal(t, "2026-03-15T00:00:00Z", run.Outcomes[0].NextPayoutDate)

	// AND: The bonus wallet is credited
	wallets := decodeBody[[]WalletDTO](t, env.do(t, http.MethodGet, "/api/users/member-1/wallets", nil))
	require.Len(t, wallets, 1)
	assert.Equal(t, "60", wallets[0].Balance.String())

	// AND: One bonus record covers Monday to Saturday
	records := decodeBody[[]BonusRecordDTO](t, env.do(t, http.MethodGet, "/api/profiles/inc-1/bonus-records", nil))
	require.Len(t, records, 1)
	assert.Equal(t, "2026-03-02T00:00:00Z", records[0].PeriodStart)
	assert.Equal(t, "2026-03-07T23:59:59Z", records[0].PeriodEnd)
	assert.Equal(t, "2026-03", records[0].IncentiveMonth)
	assert.Equal(t, "paid", records[0].PayoutStatus)

	// AND: The audit transaction references the record
	txs := decodeBody[[]TransactionDTO](t, env.do(t, http.MethodGet, "/api/users/member-1/transactions", nil))
	var audit *TransactionDTO
	for i := range txs {
		if txs[i].Type == "bonus_in" {
			audit = &txs[i]
		}
	}
	require.NotNil(t, audit)
	assert.Equal(t, records[0].ID, audit.ReferenceID)
	require.NotNil(t, audit.OldBalance)
	assert.Equal(t, "0", audit.OldBalance.String())
	assert.Equal(t, "60", audit.NewBalance.String())

	// WHEN: Running again at the same instant
	rec = env.do(t, http.MethodPost, "/api/batch/run", nil)

	// THEN: Nothing is due
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decodeBody[RunDTO](t, rec).Processed)

	// AND: Both runs are in the history, newest first
	runs := decodeBody[[]RunDTO](t, env.do(t, http.MethodGet, "/api/batch/runs", nil))
	require.Len(t, runs, 2)
	assert.Equal(t, 0, runs[0].Processed)
	assert.Equal(t, 1, runs[1].Paid)
}

func TestRunBatch_ExplicitAsOf(t *testing.T) {
	// GIVEN: A weekly profile due 2026-03-08
	env := newTestEnv(t)
	env.seedMember(t)

	// WHEN: Running with an as_of before the due date
	rec := env.do(t, http.MethodPost, "/api/batch/run", map[string]string{"as_of": "2026-03-07T12:00:00Z"})

	// THEN: Nothing is processed
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decodeBody[RunDTO](t, rec)
	assert.Equal(t, 0, run.Processed)
	assert.Equal(t, "2026-03-07T12:00:00Z", run.AsOf)
}

// =============================================================================
// REPORT
// =============================================================================

func TestGetReport(t *testing.T) {
	// GIVEN: Two profiles with different earnings
	env := newTestEnv(t)
	env.seedMember(t)
	env.mustCreate(t, "/api/profiles", map[string]any{
		"id":                     "inc-2",
		"user_id":                "agent-1",
		"sales_calculation_mode": "group",
		"sales_category":         "gross_deposit",
		"target_amount":          1000,
		"incentive_rate":         10,
		"calculation_threshold":  100,
		"calculation_period":     "weekly_sunday",
	})

	// WHEN: Requesting the report sorted by incentive
	rec := env.do(t, http.MethodGet, "/api/report?as_of=2026-03-06T12:00:00Z&sort_by=incentive_amount", nil)

	// THEN: The group profile (2000 achieved, 200 paid) ranks first
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[ReportDTO](t, rec)
	assert.Equal(t, 2, report.Total)
	require.Len(t, report.Rows, 2)
	assert.Equal(t, "inc-2", report.Rows[0].ProfileID)
	assert.Equal(t, 1, report.Rows[0].Rank)
	assert.Equal(t, "2000", report.Rows[0].AchievedAmount.String())
	assert.Equal(t, "200", report.Rows[0].IncentiveAmount.String())
	assert.Equal(t, 2, report.Rows[0].Participants)
	assert.Equal(t, "inc-1", report.Rows[1].ProfileID)

	// AND: Identical requests give identical bodies
	again := env.do(t, http.MethodGet, "/api/report?as_of=2026-03-06T12:00:00Z&sort_by=incentive_amount", nil)
	assert.Equal(t, rec.Body.String(), again.Body.String())

	// WHEN: Paging one row at a time
	page2 := decodeBody[ReportDTO](t, env.do(t, http.MethodGet, "/api/report?as_of=2026-03-06T12:00:00Z&sort_by=incentive_amount&page=2&per_page=1", nil))

	// THEN: The second page holds the second row
	require.Len(t, page2.Rows, 1)
	assert.Equal(t, "inc-1", page2.Rows[0].ProfileID)
	assert.Equal(t, 2, page2.Rows[0].Rank)

	// AND: An unknown sort field is rejected
	rec = env.do(t, http.MethodGet, "/api/report?sort_by=name", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// OPERATIONAL ENDPOINTS
// =============================================================================

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	health := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "2026-03-04T11:30:00Z", health.NextBatchCheck)

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "incentive_batch_duration_seconds")
}

func TestSetLogLevel(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"debug", LogLevelRequest{Level: "debug"}, http.StatusOK},
		{"back to info", LogLevelRequest{Level: "info"}, http.StatusOK},
		{"unknown level", LogLevelRequest{Level: "verbose"}, http.StatusBadRequest},
		{"missing level", map[string]string{}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, "/api/admin/log-level", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}
