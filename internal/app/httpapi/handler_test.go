package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	app "github.com/trivianft/core/internal/app"
	"github.com/trivianft/core/internal/app/domain/category"
	"github.com/trivianft/core/internal/app/domain/nft"
	"github.com/trivianft/core/internal/app/domain/player"
	"github.com/trivianft/core/internal/app/domain/season"
	"github.com/trivianft/core/internal/app/services/workflow"
	"github.com/trivianft/core/internal/app/storage/memory"
	"github.com/trivianft/core/internal/middleware"
	"github.com/trivianft/core/pkg/testutil"
)

type apiFixture struct {
	handler http.Handler
	app     *app.Application
	store   *memory.Store
	cat     category.Category
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store := memory.New()
	bank := testutil.NewQuestionBank()

	cat := store.SeedCategory(category.Category{Slug: "science", Name: "Science", Code: "SCI", Active: true})
	bank.SeedN(cat.ID, 12, 1)
	if _, err := store.CreateSeason(context.Background(), season.Season{
		ID: "winter-s1", Name: "Winter", EndsAt: time.Now().UTC().Add(time.Hour), Active: true,
	}); err != nil {
		t.Fatalf("seed season: %v", err)
	}
	if _, err := store.CreateCatalogItem(context.Background(), nft.CatalogItem{
		CategoryID:  cat.ID,
		Name:        "TNFT_V1_SCI_REG_0a1b2c3d",
		ArtworkKey:  "art/sci.png",
		MetadataKey: "meta/sci.json",
	}); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}

	application, err := app.New(app.Deps{
		Stores: app.Stores{
			Players: store, Categories: store, Flags: store, Sessions: store,
			Eligibilities: store, Catalog: store, Assets: store, Mints: store,
			Forges: store, Seasons: store, Points: store, Snapshots: store,
		},
		Questions: bank,
		Chain:     &testutil.Chain{},
		Blobs:     testutil.NewBlobStore(map[string][]byte{"art/sci.png": []byte("png-bytes")}),
		Pins:      &testutil.Pinner{},
		RNG:       testutil.StaticRNG{},
		WorkflowConfig: workflow.Config{
			PolicyID:     "policy-1",
			RetryInitial: time.Millisecond,
			RetryMax:     2 * time.Millisecond,
		},
	}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	return &apiFixture{handler: NewHandler(application), app: application, store: store, cat: cat}
}

func connectedPlayer() player.Player {
	return player.Player{Stake: "stake1abc", Username: "alice"}
}

func guestPlayer() player.Player {
	return player.Player{AnonID: "anon-1"}
}

func (f *apiFixture) do(t *testing.T, p player.Player, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req = req.WithContext(middleware.WithPlayer(req.Context(), p))
	resp := httptest.NewRecorder()
	f.handler.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), dst); err != nil {
		t.Fatalf("unmarshal response %s: %v", resp.Body.String(), err)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	p := connectedPlayer()

	resp := f.do(t, p, http.MethodPost, "/sessions/start", map[string]any{"category_id": f.cat.ID})
	if resp.Code != http.StatusCreated {
		t.Fatalf("start = %d: %s", resp.Code, resp.Body.String())
	}
	var started struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		Questions []struct {
			CorrectIndex int `json:"correct_index"`
		} `json:"questions"`
	}
	decode(t, resp, &started)
	if started.Status != "active" || len(started.Questions) != 10 {
		t.Fatalf("started = %+v", started)
	}
	for i, q := range started.Questions {
		if q.CorrectIndex != -1 {
			t.Fatalf("question %d leaked correct index %d", i, q.CorrectIndex)
		}
	}

	// Answer every question correctly; the bank marks option 1 correct.
	for i := 0; i < 10; i++ {
		resp = f.do(t, p, http.MethodPost, "/sessions/"+started.ID+"/answer", map[string]any{
			"question_index": i, "option_index": 1, "time_ms": 3000,
		})
		if resp.Code != http.StatusOK {
			t.Fatalf("answer %d = %d: %s", i, resp.Code, resp.Body.String())
		}
		var ans struct {
			Correct      bool `json:"correct"`
			CorrectIndex int  `json:"correct_index"`
		}
		decode(t, resp, &ans)
		if !ans.Correct || ans.CorrectIndex != 1 {
			t.Fatalf("answer %d = %+v", i, ans)
		}
	}

	resp = f.do(t, p, http.MethodPost, "/sessions/"+started.ID+"/complete", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("complete = %d: %s", resp.Code, resp.Body.String())
	}
	var completed struct {
		Status        string `json:"status"`
		IsPerfect     bool   `json:"is_perfect"`
		EligibilityID string `json:"eligibility_id"`
	}
	decode(t, resp, &completed)
	if completed.Status != "won" || !completed.IsPerfect || completed.EligibilityID == "" {
		t.Fatalf("completed = %+v", completed)
	}

	resp = f.do(t, p, http.MethodGet, "/eligibilities", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("eligibilities = %d: %s", resp.Code, resp.Body.String())
	}
	var eligs []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decode(t, resp, &eligs)
	if len(eligs) != 1 || eligs[0].ID != completed.EligibilityID || eligs[0].Status != "active" {
		t.Fatalf("eligs = %+v", eligs)
	}

	resp = f.do(t, p, http.MethodPost, "/mint/"+completed.EligibilityID, nil)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("mint = %d: %s", resp.Code, resp.Body.String())
	}
	var mint struct {
		ID string `json:"id"`
	}
	decode(t, resp, &mint)
	f.app.Mint.Wait()

	resp = f.do(t, p, http.MethodGet, "/mint/"+mint.ID+"/status", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("mint status = %d: %s", resp.Code, resp.Body.String())
	}
	var status struct {
		Status string `json:"status"`
		TxHash string `json:"tx_hash"`
	}
	decode(t, resp, &status)
	if status.Status != "confirmed" || status.TxHash == "" {
		t.Fatalf("mint status = %+v", status)
	}
}

func TestSessionOwnershipAndNotFound(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, connectedPlayer(), http.MethodPost, "/sessions/start", map[string]any{"category_id": f.cat.ID})
	if resp.Code != http.StatusCreated {
		t.Fatalf("start = %d", resp.Code)
	}
	var started struct {
		ID string `json:"id"`
	}
	decode(t, resp, &started)

	resp = f.do(t, guestPlayer(), http.MethodGet, "/sessions/"+started.ID, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("foreign get = %d", resp.Code)
	}

	resp = f.do(t, connectedPlayer(), http.MethodGet, "/sessions/no-such-session", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("unknown session = %d", resp.Code)
	}
}

func TestAnswerValidationMapping(t *testing.T) {
	f := newAPIFixture(t)
	p := connectedPlayer()

	resp := f.do(t, p, http.MethodPost, "/sessions/start", map[string]any{"category_id": f.cat.ID})
	var started struct {
		ID string `json:"id"`
	}
	decode(t, resp, &started)

	// Over the per-question time budget.
	resp = f.do(t, p, http.MethodPost, "/sessions/"+started.ID+"/answer", map[string]any{
		"question_index": 0, "option_index": 1, "time_ms": 20000,
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("timeout answer = %d: %s", resp.Code, resp.Body.String())
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, resp, &body)
	if body.Error.Code != "ANSWER_TIMEOUT" {
		t.Fatalf("code = %s", body.Error.Code)
	}

	// Unknown fields are rejected at the boundary.
	resp = f.do(t, p, http.MethodPost, "/sessions/"+started.ID+"/answer", map[string]any{
		"question_index": 0, "option_index": 1, "time_ms": 100, "bogus": true,
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("unknown field = %d", resp.Code)
	}
}

func TestForgeRequiresStake(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, guestPlayer(), http.MethodPost, "/forge/category", map[string]any{
		"category_id": f.cat.ID, "fingerprints": []string{"asset1a"},
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("guest forge = %d: %s", resp.Code, resp.Body.String())
	}

	resp = f.do(t, guestPlayer(), http.MethodGet, "/forge/progress", nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("guest progress = %d", resp.Code)
	}
}

func TestLeaderboardAndSeasonEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	p := connectedPlayer()

	resp := f.do(t, p, http.MethodGet, "/leaderboard/global", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("global = %d: %s", resp.Code, resp.Body.String())
	}
	var page struct {
		Entries []any `json:"entries"`
		Total   int64 `json:"total"`
	}
	decode(t, resp, &page)

	resp = f.do(t, p, http.MethodGet, "/leaderboard/global?limit=0", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("limit 0 = %d", resp.Code)
	}
	resp = f.do(t, p, http.MethodGet, "/leaderboard/global?limit=abc", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("limit abc = %d", resp.Code)
	}

	resp = f.do(t, p, http.MethodGet, "/seasons/current", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("current season = %d", resp.Code)
	}
	var cur struct {
		ID    string `json:"id"`
		Ended bool   `json:"ended"`
	}
	decode(t, resp, &cur)
	if cur.ID != "winter-s1" || cur.Ended {
		t.Fatalf("current = %+v", cur)
	}
}

func TestFlagQuestion(t *testing.T) {
	f := newAPIFixture(t)
	p := connectedPlayer()

	resp := f.do(t, p, http.MethodPost, "/sessions/start", map[string]any{"category_id": f.cat.ID})
	var started struct {
		Questions []struct {
			QuestionID string `json:"question_id"`
		} `json:"questions"`
	}
	decode(t, resp, &started)

	resp = f.do(t, p, http.MethodPost, "/questions/"+started.Questions[0].QuestionID+"/flag",
		map[string]any{"reason": "ambiguous wording"})
	if resp.Code != http.StatusNoContent {
		t.Fatalf("flag = %d: %s", resp.Code, resp.Body.String())
	}
}

func TestMintDisabledWithoutChain(t *testing.T) {
	application, err := app.New(app.Deps{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	handler := NewHandler(application)

	req := httptest.NewRequest(http.MethodPost, "/mint/elig-1", nil)
	req = req.WithContext(middleware.WithPlayer(req.Context(), connectedPlayer()))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotImplemented {
		t.Fatalf("mint without chain = %d", resp.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.app.AddProbe("kv", func(context.Context) error { return nil })
	f.app.AddProbe("sql", func(context.Context) error { return fmt.Errorf("connection refused") })

	resp := f.do(t, connectedPlayer(), http.MethodGet, "/health", nil)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("health = %d: %s", resp.Code, resp.Body.String())
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decode(t, resp, &body)
	if body.Status != "degraded" || body.Checks["kv"] != "ok" || body.Checks["sql"] == "ok" {
		t.Fatalf("health body = %+v", body)
	}
}
