// Package httpapi exposes the engine over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/celvios/baobab-mlm-sub002/internal/domain/ledger"
	"github.com/celvios/baobab-mlm-sub002/internal/domain/member"
	"github.com/celvios/baobab-mlm-sub002/internal/matrix"
	"github.com/celvios/baobab-mlm-sub002/internal/metrics"
	"github.com/celvios/baobab-mlm-sub002/internal/storage"
	"github.com/celvios/baobab-mlm-sub002/pkg/logger"
)

// Handler serves the engine's REST surface.
type Handler struct {
	svc     *matrix.Service
	log     *logger.Logger
	limiter *rate.Limiter
}

// NewHandler builds the HTTP handler. eventRate and eventBurst throttle the
// event-ingestion endpoints.
func NewHandler(svc *matrix.Service, log *logger.Logger, eventRate float64, eventBurst int) *Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	if eventRate <= 0 {
		eventRate = 50
	}
	if eventBurst <= 0 {
		eventBurst = 100
	}
	return &Handler{
		svc:     svc,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(eventRate), eventBurst),
	}
}

// Router assembles the route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(metrics.InstrumentHandler)

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	r.HandleFunc("/members", h.registerMember).Methods(http.MethodPost)
	r.HandleFunc("/members/{id}", h.getMember).Methods(http.MethodGet)
	r.HandleFunc("/members/{id}/progress", h.progress).Methods(http.MethodGet)
	r.HandleFunc("/members/{id}/earnings", h.earnings).Methods(http.MethodGet)
	r.HandleFunc("/members/{id}/transactions", h.transactions).Methods(http.MethodGet)
	r.HandleFunc("/members/{id}/matrix/{stage}", h.occupancy).Methods(http.MethodGet)

	events := r.PathPrefix("/events").Subrouter()
	events.Use(h.throttle)
	events.HandleFunc("/qualifying", h.qualifying).Methods(http.MethodPost)
	events.HandleFunc("/stage-entry", h.stageEntry).Methods(http.MethodPost)
	events.HandleFunc("/placement", h.placement).Methods(http.MethodPost)

	return r
}

func (h *Handler) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "event rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerMemberRequest struct {
	Name       string `json:"name"`
	ReferrerID string `json:"referrer_id"`
}

func (h *Handler) registerMember(w http.ResponseWriter, r *http.Request) {
	var req registerMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	m, err := h.svc.RegisterMember(r.Context(), req.Name, req.ReferrerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, memberJSON(m))
}

func (h *Handler) getMember(w http.ResponseWriter, r *http.Request) {
	progress, err := h.svc.StageProgress(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, memberJSON(progress.Member))
}

type qualifyingRequest struct {
	MemberID string `json:"member_id"`
}

func (h *Handler) qualifying(w http.ResponseWriter, r *http.Request) {
	var req qualifyingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MemberID == "" {
		writeError(w, http.StatusBadRequest, "member_id is required")
		return
	}
	m, err := h.svc.Qualify(r.Context(), req.MemberID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, memberJSON(m))
}

type stageEntryRequest struct {
	MemberID string `json:"member_id"`
	Stage    string `json:"stage"`
}

func (h *Handler) stageEntry(w http.ResponseWriter, r *http.Request) {
	var req stageEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MemberID == "" || req.Stage == "" {
		writeError(w, http.StatusBadRequest, "member_id and stage are required")
		return
	}
	stage, err := member.ParseStage(req.Stage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.svc.EnterStage(r.Context(), req.MemberID, stage)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, memberJSON(m))
}

type placementRequest struct {
	SponsorID string `json:"sponsor_id"`
	MemberID  string `json:"member_id"`
	Stage     string `json:"stage"`
}

func (h *Handler) placement(w http.ResponseWriter, r *http.Request) {
	var req placementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SponsorID == "" || req.MemberID == "" || req.Stage == "" {
		writeError(w, http.StatusBadRequest, "sponsor_id, member_id and stage are required")
		return
	}
	stage, err := member.ParseStage(req.Stage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.PlaceInMatrix(r.Context(), req.SponsorID, req.MemberID, stage)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, placementJSON(res))
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.svc.StageProgress(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progressJSON(progress))
}

func (h *Handler) earnings(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.EarningsByStage(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, earningsJSON(report))
}

func (h *Handler) transactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	txs, err := h.svc.Transactions(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, transactionJSON(tx))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (h *Handler) occupancy(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	stage, err := member.ParseStage(vars["stage"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	occ, err := h.svc.MatrixOccupancy(r.Context(), vars["id"], stage)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, occupancyJSON(occ))
}

// writeServiceError maps engine errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, matrix.ErrUnknownStage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, matrix.ErrAlreadyPlaced),
		errors.Is(err, matrix.ErrNoAvailablePosition),
		errors.Is(err, matrix.ErrStageRegression):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- response shapes --------------------------------------------------------

type memberResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ReferrerID string    `json:"referrer_id,omitempty"`
	Stage      string    `json:"stage"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func memberJSON(m member.Member) memberResponse {
	return memberResponse{
		ID:         m.ID,
		Name:       m.Name,
		ReferrerID: m.ReferrerID,
		Stage:      string(m.Stage),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

type matrixResponse struct {
	Stage                string `json:"stage"`
	SlotsFilled          int    `json:"slots_filled"`
	QualifiedSlotsFilled int    `json:"qualified_slots_filled"`
	SlotsRequired        int    `json:"slots_required"`
	IsComplete           bool   `json:"is_complete"`
}

type progressionResponse struct {
	FromStage string    `json:"from_stage"`
	ToStage   string    `json:"to_stage"`
	CreatedAt time.Time `json:"created_at"`
}

type progressResponse struct {
	Member       memberResponse        `json:"member"`
	Matrices     []matrixResponse      `json:"matrices"`
	Progressions []progressionResponse `json:"progressions"`
}

func progressJSON(p matrix.StageProgress) progressResponse {
	out := progressResponse{
		Member:       memberJSON(p.Member),
		Matrices:     make([]matrixResponse, 0, len(p.Matrices)),
		Progressions: make([]progressionResponse, 0, len(p.Progressions)),
	}
	for _, sm := range p.Matrices {
		out.Matrices = append(out.Matrices, matrixResponse{
			Stage:                string(sm.Stage),
			SlotsFilled:          sm.SlotsFilled,
			QualifiedSlotsFilled: sm.QualifiedSlotsFilled,
			SlotsRequired:        sm.SlotsRequired,
			IsComplete:           sm.IsComplete,
		})
	}
	for _, pr := range p.Progressions {
		out.Progressions = append(out.Progressions, progressionResponse{
			FromStage: string(pr.FromStage),
			ToStage:   string(pr.ToStage),
			CreatedAt: pr.CreatedAt,
		})
	}
	return out
}

type placementResponse struct {
	PositionPath string `json:"position_path,omitempty"`
	Depth        int    `json:"depth,omitempty"`
	Duplicate    bool   `json:"duplicate"`
	Qualified    bool   `json:"qualified"`
	BonusPaid    bool   `json:"bonus_paid"`
	Completed    bool   `json:"completed"`
	PromotedTo   string `json:"promoted_to,omitempty"`
}

func placementJSON(p matrix.Placement) placementResponse {
	return placementResponse{
		PositionPath: p.Position.Path,
		Depth:        p.Position.Depth,
		Duplicate:    p.Duplicate,
		Qualified:    p.Qualified,
		BonusPaid:    p.BonusPaid,
		Completed:    p.Completed,
		PromotedTo:   string(p.PromotedTo),
	}
}

type stageEarningsResponse struct {
	Stage       string `json:"stage"`
	Count       int    `json:"count"`
	AmountCents int64  `json:"amount_cents"`
}

type earningsResponse struct {
	BalanceCents     int64                   `json:"balance_cents"`
	TotalEarnedCents int64                   `json:"total_earned_cents"`
	ByStage          []stageEarningsResponse `json:"by_stage"`
	TotalCents       int64                   `json:"total_cents"`
}

func earningsJSON(r matrix.EarningsReport) earningsResponse {
	out := earningsResponse{
		BalanceCents:     int64(r.Wallet.Balance),
		TotalEarnedCents: int64(r.Wallet.TotalEarned),
		ByStage:          make([]stageEarningsResponse, 0, len(r.ByStage)),
		TotalCents:       int64(r.Total),
	}
	for _, se := range r.ByStage {
		out.ByStage = append(out.ByStage, stageEarningsResponse{
			Stage:       string(se.Stage),
			Count:       se.Count,
			AmountCents: int64(se.Amount),
		})
	}
	return out
}

type transactionResponse struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	AmountCents int64     `json:"amount_cents"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func transactionJSON(tx ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:          tx.ID,
		Type:        string(tx.Type),
		AmountCents: int64(tx.Amount),
		Description: tx.Description,
		CreatedAt:   tx.CreatedAt,
	}
}

type positionResponse struct {
	MemberID  string    `json:"member_id"`
	Path      string    `json:"path"`
	Depth     int       `json:"depth"`
	CreatedAt time.Time `json:"created_at"`
}

type membershipResponse struct {
	MemberID         string `json:"member_id"`
	StageAtPlacement string `json:"stage_at_placement"`
	IsQualified      bool   `json:"is_qualified"`
}

type occupancyResponse struct {
	Matrix      matrixResponse       `json:"matrix"`
	Positions   []positionResponse   `json:"positions"`
	Memberships []membershipResponse `json:"memberships"`
}

func occupancyJSON(o matrix.Occupancy) occupancyResponse {
	out := occupancyResponse{
		Matrix: matrixResponse{
			Stage:                string(o.Matrix.Stage),
			SlotsFilled:          o.Matrix.SlotsFilled,
			QualifiedSlotsFilled: o.Matrix.QualifiedSlotsFilled,
			SlotsRequired:        o.Matrix.SlotsRequired,
			IsComplete:           o.Matrix.IsComplete,
		},
		Positions:   make([]positionResponse, 0, len(o.Positions)),
		Memberships: make([]membershipResponse, 0, len(o.Memberships)),
	}
	for _, p := range o.Positions {
		out.Positions = append(out.Positions, positionResponse{
			MemberID:  p.MemberID,
			Path:      p.Path,
			Depth:     p.Depth,
			CreatedAt: p.CreatedAt,
		})
	}
	for _, mm := range o.Memberships {
		out.Memberships = append(out.Memberships, membershipResponse{
			MemberID:         mm.MemberID,
			StageAtPlacement: string(mm.StageAtPlacement),
			IsQualified:      mm.IsQualified,
		})
	}
	return out
}
