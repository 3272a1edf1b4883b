// Package httpapi is the REST boundary: a thin adapter from HTTP to the
// game services, with error-kind to status-code mapping.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	app "github.com/trivianft/core/internal/app"
	"github.com/trivianft/core/internal/app/domain/apperr"
	"github.com/trivianft/core/internal/app/domain/eligibility"
	"github.com/trivianft/core/internal/app/domain/nft"
	"github.com/trivianft/core/internal/app/domain/player"
	"github.com/trivianft/core/internal/app/domain/session"
	"github.com/trivianft/core/internal/middleware"
)

// handler bundles the HTTP endpoints over the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the game REST API. Identity is expected
// in the request context; wrap with middleware.AuthMiddleware in front.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/start", h.startSession)
	mux.HandleFunc("/sessions/", h.sessionResources)
	mux.HandleFunc("/questions/", h.questionResources)
	mux.HandleFunc("/eligibilities", h.eligibilities)
	mux.HandleFunc("/mint/", h.mintResources)
	mux.HandleFunc("/forge/progress", h.forgeProgress)
	mux.HandleFunc("/forge/", h.forgeResources)
	mux.HandleFunc("/leaderboard/", h.leaderboard)
	mux.HandleFunc("/seasons/current", h.currentSeason)
	mux.HandleFunc("/health", h.health)
	return mux
}

// caller returns the identity the auth middleware attached.
func (h *handler) caller(r *http.Request) (player.Player, error) {
	p, ok := middleware.FromContext(r.Context())
	if !ok {
		return player.Player{}, apperr.New(apperr.KindForbidden, "UNAUTHORIZED", "no identity on request")
	}
	return p, nil
}

// resolvePlayer upserts the caller into the player table so it carries a
// stable id, and bumps last-seen.
func (h *handler) resolvePlayer(ctx context.Context, r *http.Request) (player.Player, error) {
	p, err := h.caller(r)
	if err != nil {
		return player.Player{}, err
	}
	return h.app.Players.UpsertPlayer(ctx, p)
}

type sessionView struct {
	ID           string                   `json:"id"`
	CategoryID   string                   `json:"category_id"`
	Status       string                   `json:"status"`
	CurrentIndex int                      `json:"current_index"`
	Score        int                      `json:"score"`
	Questions    []session.ServedQuestion `json:"questions"`
	StartedAt    time.Time                `json:"started_at"`
	EndedAt      *time.Time               `json:"ended_at,omitempty"`
	TotalMs      int64                    `json:"total_ms"`
}

func viewSession(s session.Session) sessionView {
	return sessionView{
		ID:           s.ID,
		CategoryID:   s.CategoryID,
		Status:       string(s.Status),
		CurrentIndex: s.CurrentIndex,
		Score:        s.Score,
		Questions:    s.Questions,
		StartedAt:    s.StartedAt,
		EndedAt:      s.EndedAt,
		TotalMs:      s.TotalMs,
	}
}

func (h *handler) startSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		CategoryID string `json:"category_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("MALFORMED_BODY", err))
		return
	}

	p, err := h.resolvePlayer(r.Context(), r)
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err := h.app.Sessions.Start(r.Context(), p, payload.CategoryID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewSession(sess))
}

func (h *handler) sessionResources(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/sessions")
	if len(parts) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	sessionID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p, err := h.caller(r)
		if err != nil {
			writeError(w, err)
			return
		}
		sess, err := h.app.Sessions.Get(r.Context(), sessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		if sess.Identity() != p.Identity() {
			writeError(w, apperr.New(apperr.KindForbidden, apperr.CodeOwnershipMismatch, "session belongs to another player"))
			return
		}
		writeJSON(w, http.StatusOK, viewSession(sess))
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch parts[1] {
	case "answer":
		var payload struct {
			QuestionIndex int   `json:"question_index"`
			OptionIndex   int   `json:"option_index"`
			TimeMs        int64 `json:"time_ms"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeJSON(w, http.StatusBadRequest, errBody("MALFORMED_BODY", err))
			return
		}
		result, err := h.app.Sessions.SubmitAnswer(r.Context(), sessionID, payload.QuestionIndex, payload.OptionIndex, payload.TimeMs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "complete":
		result, err := h.app.Sessions.Complete(r.Context(), sessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "forfeit":
		result, err := h.app.Sessions.Forfeit(r.Context(), sessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) questionResources(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/questions")
	if len(parts) != 2 || parts[1] != "flag" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("MALFORMED_BODY", err))
		return
	}
	p, err := h.resolvePlayer(r.Context(), r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.app.Sessions.FlagQuestion(r.Context(), parts[0], p.ID, payload.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type eligibilityView struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	CategoryID string    `json:"category_id,omitempty"`
	SeasonID   string    `json:"season_id,omitempty"`
	Status     string    `json:"status"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

func viewEligibility(e eligibility.Eligibility) eligibilityView {
	return eligibilityView{
		ID:         e.ID,
		Type:       string(e.Type),
		CategoryID: e.CategoryID,
		SeasonID:   e.SeasonID,
		Status:     string(e.Status),
		ExpiresAt:  e.ExpiresAt,
		CreatedAt:  e.CreatedAt,
	}
}

func (h *handler) eligibilities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, err := h.resolvePlayer(r.Context(), r)
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := h.app.Eligibility.ListActive(r.Context(), p.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]eligibilityView, len(list))
	for i, e := range list {
		out[i] = viewEligibility(e)
	}
	writeJSON(w, http.StatusOK, out)
}

type mintView struct {
	ID            string     `json:"id"`
	EligibilityID string     `json:"eligibility_id"`
	Status        string     `json:"status"`
	TxHash        string     `json:"tx_hash,omitempty"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
}

func viewMint(op nft.MintOperation) mintView {
	return mintView{
		ID:            op.ID,
		EligibilityID: op.EligibilityID,
		Status:        string(op.Status),
		TxHash:        op.TxHash,
		Error:         op.Error,
		CreatedAt:     op.CreatedAt,
		ConfirmedAt:   op.ConfirmedAt,
	}
}

func (h *handler) mintResources(w http.ResponseWriter, r *http.Request) {
	if h.app.Mint == nil {
		writeJSON(w, http.StatusNotImplemented, errBody("MINTING_DISABLED", fmt.Errorf("minting is not configured")))
		return
	}
	parts := pathParts(r.URL.Path, "/mint")
	switch {
	case len(parts) == 1 && r.Method == http.MethodPost:
		p, err := h.resolvePlayer(r.Context(), r)
		if err != nil {
			writeError(w, err)
			return
		}
		op, err := h.app.Mint.Start(r.Context(), parts[0], p)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, viewMint(op))
	case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodGet:
		p, err := h.caller(r)
		if err != nil {
			writeError(w, err)
			return
		}
		op, err := h.app.Mint.Get(r.Context(), parts[0])
		if err != nil {
			writeError(w, err)
			return
		}
		if op.Stake != p.Stake {
			writeError(w, apperr.New(apperr.KindForbidden, apperr.CodeOwnershipMismatch, "operation belongs to another player"))
			return
		}
		writeJSON(w, http.StatusOK, viewMint(op))
	case len(parts) >= 1:
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type forgeView struct {
	ID                string     `json:"id"`
	Type              string     `json:"type"`
	Status            string     `json:"status"`
	BurnTxHash        string     `json:"burn_tx_hash,omitempty"`
	MintTxHash        string     `json:"mint_tx_hash,omitempty"`
	OutputFingerprint string     `json:"output_fingerprint,omitempty"`
	NeedsOperator     bool       `json:"needs_operator,omitempty"`
	Error             string     `json:"error,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ConfirmedAt       *time.Time `json:"confirmed_at,omitempty"`
}

func viewForge(op nft.ForgeOperation) forgeView {
	return forgeView{
		ID:                op.ID,
		Type:              string(op.Type),
		Status:            string(op.Status),
		BurnTxHash:        op.BurnTxHash,
		MintTxHash:        op.MintTxHash,
		OutputFingerprint: op.OutputFingerprint,
		NeedsOperator:     op.NeedsOperator,
		Error:             op.Error,
		CreatedAt:         op.CreatedAt,
		ConfirmedAt:       op.ConfirmedAt,
	}
}

func (h *handler) forgeProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, err := h.caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	progress, err := h.app.Seasons.ForgeProgress(r.Context(), p.Stake)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *handler) forgeResources(w http.ResponseWriter, r *http.Request) {
	if h.app.Forge == nil {
		writeJSON(w, http.StatusNotImplemented, errBody("FORGING_DISABLED", fmt.Errorf("forging is not configured")))
		return
	}
	parts := pathParts(r.URL.Path, "/forge")
	switch {
	case len(parts) == 1 && r.Method == http.MethodPost:
		var payload struct {
			CategoryID   string   `json:"category_id"`
			Fingerprints []string `json:"fingerprints"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeJSON(w, http.StatusBadRequest, errBody("MALFORMED_BODY", err))
			return
		}
		p, err := h.caller(r)
		if err != nil {
			writeError(w, err)
			return
		}
		op, err := h.app.Forge.Start(r.Context(), nft.ForgeType(parts[0]), p.Stake, payload.CategoryID, payload.Fingerprints)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, viewForge(op))
	case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodGet:
		p, err := h.caller(r)
		if err != nil {
			writeError(w, err)
			return
		}
		op, err := h.app.Forge.Get(r.Context(), parts[0])
		if err != nil {
			writeError(w, err)
			return
		}
		if op.Stake != p.Stake {
			writeError(w, apperr.New(apperr.KindForbidden, apperr.CodeOwnershipMismatch, "operation belongs to another player"))
			return
		}
		writeJSON(w, http.StatusOK, viewForge(op))
	case len(parts) >= 1:
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := pathParts(r.URL.Path, "/leaderboard")
	if len(parts) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	limit, err := queryInt(r, "limit", 25)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("INVALID_LIMIT", err))
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("INVALID_OFFSET", err))
		return
	}

	switch parts[0] {
	case "global":
		seasonID, err := h.seasonParam(r)
		if err != nil {
			writeError(w, err)
			return
		}
		page, err := h.app.Leaderboard.GetPage(r.Context(), seasonID, "", limit, offset)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	case "category":
		if len(parts) != 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		seasonID, err := h.seasonParam(r)
		if err != nil {
			writeError(w, err)
			return
		}
		page, err := h.app.Leaderboard.GetPage(r.Context(), seasonID, parts[1], limit, offset)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	case "season":
		if len(parts) != 3 || parts[2] != "snapshot" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		date := r.URL.Query().Get("date")
		if date == "" {
			date = time.Now().UTC().Format("2006-01-02")
		}
		rows, err := h.app.Leaderboard.GetSnapshot(r.Context(), parts[1], date, limit, offset)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// seasonParam resolves the season_id query, defaulting to the active season.
func (h *handler) seasonParam(r *http.Request) (string, error) {
	if id := strings.TrimSpace(r.URL.Query().Get("season_id")); id != "" {
		return id, nil
	}
	st, err := h.app.Seasons.Current(r.Context())
	if err != nil {
		return "", err
	}
	return st.Season.ID, nil
}

type seasonView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	GraceDays int       `json:"grace_days"`
	Ended     bool      `json:"ended"`
	InGrace   bool      `json:"in_grace"`
}

func (h *handler) currentSeason(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	st, err := h.app.Seasons.Current(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seasonView{
		ID:        st.Season.ID,
		Name:      st.Season.Name,
		StartsAt:  st.Season.StartsAt,
		EndsAt:    st.Season.EndsAt,
		GraceDays: st.Season.GraceDays,
		Ended:     st.Ended,
		InGrace:   st.InGrace,
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	checks, ok := h.app.Health(r.Context())
	status, verdict := http.StatusOK, "ok"
	if !ok {
		status, verdict = http.StatusServiceUnavailable, "degraded"
	}
	writeJSON(w, status, map[string]any{"status": verdict, "checks": checks})
}

// pathParts splits the path after the given prefix into non-empty segments.
func pathParts(path, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func errBody(code string, err error) map[string]any {
	return map[string]any{"error": map[string]string{"code": code, "message": err.Error()}}
}

// writeError maps the error taxonomy onto HTTP statuses. Rate-style
// rejections (daily cap, cooldown) surface as 429 so clients back off.
func writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	if code == "" {
		code = "INTERNAL"
	}
	writeJSON(w, errStatus(err), errBody(code, err))
}

func errStatus(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindInput:
		return http.StatusBadRequest
	case apperr.KindState:
		if apperr.CodeOf(err) == apperr.CodeCooldownActive {
			return http.StatusTooManyRequests
		}
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindCapacity:
		if apperr.CodeOf(err) == apperr.CodeDailyLimitReached {
			return http.StatusTooManyRequests
		}
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
