// Package api's server.go wires the HTTP surface spec.md §6 documents,
// grounded on the teacher's mux.Router + rs/cors + http.Server shape
// (internal/api/server.go in the teacher repo) generalized from the
// teacher's backtest/report endpoints to sector/agent/discussion CRUD
// plus the tick-driving and manager-messaging actions this domain adds.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/sector-deliberation-engine/internal/confidence"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/errs"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/metrics"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/orchestrator"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/store"
	"github.com/atlas-desktop/sector-deliberation-engine/pkg/types"
)

// Server is the engine's HTTP+WS surface. It holds no business logic
// of its own: every handler either reads the store directly (list/get
// endpoints) or delegates to the orchestrator (anything that starts,
// stops, or drives a tick).
type Server struct {
	logger *zap.Logger
	store  *store.KeyedStore
	orch   *orchestrator.Orchestrator
	hub    *Hub
	cfg    types.ServerConfig

	router *mux.Router
	http   *http.Server
}

func New(logger *zap.Logger, st *store.KeyedStore, orch *orchestrator.Orchestrator, cfg types.ServerConfig) *Server {
	s := &Server{
		logger: logger.Named("api"),
		store:  st,
		orch:   orch,
		hub:    NewHub(logger),
		cfg:    cfg,
		router: mux.NewRouter(),
	}
	s.routes()

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE"},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s.router)

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/sectors", s.handleListSectors).Methods("GET")
	s.router.HandleFunc("/api/v1/sectors", s.handleCreateSector).Methods("POST")
	s.router.HandleFunc("/api/v1/sectors/{id}", s.handleGetSector).Methods("GET")
	s.router.HandleFunc("/api/v1/sectors/{id}", s.handleDeleteSector).Methods("DELETE")
	s.router.HandleFunc("/api/v1/sectors/{id}/deposit", s.handleDeposit).Methods("POST")
	s.router.HandleFunc("/api/v1/sectors/{id}/withdraw", s.handleWithdraw).Methods("POST")
	s.router.HandleFunc("/api/v1/sectors/{id}/confidence-tick", s.handleConfidenceTick).Methods("PATCH")
	s.router.HandleFunc("/api/v1/sectors/{id}/message-manager", s.handleMessageManager).Methods("POST")

	s.router.HandleFunc("/api/v1/agents", s.handleListAgents).Methods("GET")
	s.router.HandleFunc("/api/v1/agents", s.handleCreateAgent).Methods("POST")
	s.router.HandleFunc("/api/v1/agents/{id}", s.handleGetAgent).Methods("GET")
	s.router.HandleFunc("/api/v1/agents/{id}", s.handleDeleteAgent).Methods("DELETE")

	s.router.HandleFunc("/api/v1/discussions", s.handleListDiscussions).Methods("GET")
	s.router.HandleFunc("/api/v1/discussions/{id}", s.handleGetDiscussion).Methods("GET")

	s.router.HandleFunc("/api/v1/executionLogs", s.handleListExecutionLogs).Methods("GET")

	if s.cfg.EnableMetrics {
		s.router.Handle("/metrics", metrics.Handler()).Methods("GET")
	}
	s.router.HandleFunc("/ws", s.handleWS)
}

// Start runs the HTTP server and the WebSocket hub until Shutdown is
// called, matching the teacher's ListenAndServe-in-a-goroutine pattern.
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.Info("api server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Router exposes the mux.Router directly, letting tests drive the
// handler set through httptest.NewServer without binding a real port.
func (s *Server) Router() *mux.Router {
	return s.router
}

// --- health -----------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- sectors ------------------------------------------------------------

type createSectorRequest struct {
	Name            string   `json:"name"`
	Symbol          string   `json:"symbol"`
	StartingBalance string   `json:"startingBalance"`
	InitialPrice    string   `json:"initialPrice"`
	AllowedSymbols  []string `json:"allowedSymbols"`
}

func (s *Server) handleListSectors(w http.ResponseWriter, r *http.Request) {
	sectors, err := store.List[types.Sector](s.store, store.CollectionSectors)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sectors)
}

func (s *Server) handleGetSector(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sector, ok, err := store.FindByID[types.Sector](s.store, store.CollectionSectors, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, errs.NotFound("sector_not_found"))
		return
	}
	writeJSON(w, http.StatusOK, sector)
}

// handleCreateSector creates a sector plus its single mandatory manager
// agent (spec.md §3: "exactly one manager per sector, created with the
// sector"), debiting the external user account by startingBalance and
// enforcing MaxSectors.
func (s *Server) handleCreateSector(w http.ResponseWriter, r *http.Request) {
	var req createSectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validation("invalid_json"))
		return
	}
	if req.Name == "" || req.Symbol == "" {
		writeError(w, errs.Validation("name_and_symbol_required"))
		return
	}
	balance, err := decimal.NewFromString(req.StartingBalance)
	if err != nil || balance.IsNegative() {
		writeError(w, errs.Validation("invalid_starting_balance"))
		return
	}
	initialPrice, err := decimal.NewFromString(req.InitialPrice)
	if err != nil || !initialPrice.IsPositive() {
		writeError(w, errs.Validation("invalid_initial_price"))
		return
	}

	existing, err := store.List[types.Sector](s.store, store.CollectionSectors)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(existing) >= types.MaxSectors {
		writeError(w, errs.InvariantViolation("max_sectors_reached"))
		return
	}

	accounts, err := store.ReadCollection[[]types.UserAccount](s.store, store.CollectionUserAccount)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(accounts) == 0 || accounts[0].Balance.LessThan(balance) {
		writeError(w, errs.InvariantViolation("insufficient_user_balance"))
		return
	}

	now := time.Now()
	sector := types.Sector{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Symbol:         req.Symbol,
		Balance:        balance,
		CurrentPrice:   initialPrice,
		InitialPrice:   initialPrice,
		AllowedSymbols: req.AllowedSymbols,
		Mode:           s.orch.Mode(),
		LastPriceUpdate: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	manager := types.Agent{
		ID:        uuid.NewString(),
		SectorID:  sector.ID,
		Name:      sector.Name + " Manager",
		Role:      types.RoleManager,
		Status:    types.AgentIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	sector.AgentIDs = []string{manager.ID}

	if _, err := store.WriteCollection(s.store, store.CollectionUserAccount, func(accounts []types.UserAccount) ([]types.UserAccount, error) {
		accounts[0].Balance = accounts[0].Balance.Sub(balance)
		accounts[0].UpdatedAt = now
		return accounts, nil
	}); err != nil {
		writeError(w, err)
		return
	}
	if _, err := store.Upsert(s.store, store.CollectionAgents, manager); err != nil {
		writeError(w, err)
		return
	}
	if _, err := store.Upsert(s.store, store.CollectionSectors, sector); err != nil {
		writeError(w, err)
		return
	}

	s.orch.StartSector(r.Context(), sector.ID)
	writeJSON(w, http.StatusCreated, sector)
}

// handleDeleteSector requires a case-insensitive match of the sector's
// own name as confirmation (spec.md §7), supplied either as a query
// parameter or a JSON body field, before cascading the delete.
func (s *Server) handleDeleteSector(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	confirm := r.URL.Query().Get("confirmName")
	if confirm == "" {
		var body struct {
			ConfirmName string `json:"confirmName"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		confirm = body.ConfirmName
	}

	sector, ok, err := store.FindByID[types.Sector](s.store, store.CollectionSectors, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, errs.NotFound("sector_not_found"))
		return
	}
	if !strings.EqualFold(confirm, sector.Name) {
		writeError(w, errs.Validation("confirm_name_mismatch"))
		return
	}

	deleted, err := s.orch.HandleSectorDelete(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleted)
}

type amountRequest struct {
	Amount string `json:"amount"`
}

// handleDeposit credits both balance and currentPrice by amount, the
// literal reading of spec.md §6's deposit semantics (see DESIGN.md).
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validation("invalid_json"))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeError(w, errs.Validation("invalid_amount"))
		return
	}

	updated, err := store.Mutate(s.store, store.CollectionSectors, id, func(sec types.Sector) (types.Sector, error) {
		sec.Balance = sec.Balance.Add(amount)
		sec.CurrentPrice = sec.CurrentPrice.Add(amount)
		sec.UpdatedAt = time.Now()
		return sec, nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleWithdraw debits balance only. amount "all" withdraws the full
// balance.
func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validation("invalid_json"))
		return
	}

	updated, err := store.Mutate(s.store, store.CollectionSectors, id, func(sec types.Sector) (types.Sector, error) {
		var amount decimal.Decimal
		if strings.EqualFold(req.Amount, "all") {
			amount = sec.Balance
		} else {
			parsed, err := decimal.NewFromString(req.Amount)
			if err != nil || !parsed.IsPositive() {
				return sec, errs.Validation("invalid_amount")
			}
			amount = parsed
		}
		if amount.GreaterThan(sec.Balance) {
			return sec, errs.InvariantViolation("insufficient_sector_balance")
		}
		sec.Balance = sec.Balance.Sub(amount)
		sec.UpdatedAt = time.Now()
		return sec, nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type confidenceTickResponse struct {
	Agents          []agentConfidence `json:"agents"`
	DiscussionReady bool              `json:"discussionReady"`
}

type agentConfidence struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// handleConfidenceTick starts the sector's ticker if not already
// running, then drives exactly one synchronous tick (spec.md §6),
// publishing a tick event to every connected WebSocket client.
func (s *Server) handleConfidenceTick(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok, err := store.FindByID[types.Sector](s.store, store.CollectionSectors, id); err != nil {
		writeError(w, err)
		return
	} else if !ok {
		writeError(w, errs.NotFound("sector_not_found"))
		return
	}

	s.orch.StartSector(r.Context(), id)
	if err := s.orch.TickOnce(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	sector, ok, err := store.FindByID[types.Sector](s.store, store.CollectionSectors, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, errs.NotFound("sector_not_found"))
		return
	}
	agents, err := store.List[types.Agent](s.store, store.CollectionAgents)
	if err != nil {
		writeError(w, err)
		return
	}
	discussions, err := store.List[types.Discussion](s.store, store.CollectionDiscussions)
	if err != nil {
		writeError(w, err)
		return
	}
	hasActive := false
	for _, d := range discussions {
		if d.SectorID == id && d.Status == types.DiscussionInProgress {
			hasActive = true
			break
		}
	}

	resp := confidenceTickResponse{}
	var nonManagers []types.Agent
	for _, a := range agents {
		if a.SectorID != id {
			continue
		}
		resp.Agents = append(resp.Agents, agentConfidence{ID: a.ID, Name: a.Name, Confidence: a.Confidence})
		if a.Role != types.RoleManager {
			nonManagers = append(nonManagers, a)
		}
	}
	resp.DiscussionReady = confidence.Gate(nonManagers, hasActive, sector.InCooldown(time.Now()))

	s.hub.Publish(Event{Type: EventTick, SectorID: id, Data: resp})
	writeJSON(w, http.StatusOK, resp)
}

type messageManagerRequest struct {
	Message string `json:"message"`
}

// handleMessageManager appends a free-form message to the sector's
// manager agent (Agent.Memory), the only field a client may write
// directly rather than through a tick.
func (s *Server) handleMessageManager(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req messageManagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, errs.Validation("message_required"))
		return
	}

	agents, err := store.List[types.Agent](s.store, store.CollectionAgents)
	if err != nil {
		writeError(w, err)
		return
	}
	var managerID string
	for _, a := range agents {
		if a.SectorID == id && a.Role == types.RoleManager {
			managerID = a.ID
			break
		}
	}
	if managerID == "" {
		writeError(w, errs.NotFound("manager_not_found"))
		return
	}

	updated, err := store.Mutate(s.store, store.CollectionAgents, managerID, func(a types.Agent) (types.Agent, error) {
		a.Memory = append(a.Memory, req.Message)
		a.UpdatedAt = time.Now()
		return a, nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// --- agents -------------------------------------------------------------

type createAgentRequest struct {
	SectorID    string             `json:"sectorId"`
	Name        string             `json:"name"`
	Role        types.AgentRole    `json:"role"`
	Personality types.Personality  `json:"personality"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	sectorID := r.URL.Query().Get("sectorId")
	all, err := store.List[types.Agent](s.store, store.CollectionAgents)
	if err != nil {
		writeError(w, err)
		return
	}
	if sectorID == "" {
		writeJSON(w, http.StatusOK, all)
		return
	}
	out := all[:0:0]
	for _, a := range all {
		if a.SectorID == sectorID {
			out = append(out, a)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	agent, ok, err := store.FindByID[types.Agent](s.store, store.CollectionAgents, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, errs.NotFound("agent_not_found"))
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// handleCreateAgent enforces MaxAgentsPerSector and MaxTotalAgents for
// non-manager agents (spec.md §3); a sector's manager is never created
// through this endpoint.
func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validation("invalid_json"))
		return
	}
	if req.SectorID == "" || req.Name == "" {
		writeError(w, errs.Validation("sectorId_and_name_required"))
		return
	}
	if req.Role == types.RoleManager {
		writeError(w, errs.Validation("cannot_create_additional_manager"))
		return
	}
	if req.Role == "" {
		req.Role = types.RoleGeneral
	}

	if _, ok, err := store.FindByID[types.Sector](s.store, store.CollectionSectors, req.SectorID); err != nil {
		writeError(w, err)
		return
	} else if !ok {
		writeError(w, errs.NotFound("sector_not_found"))
		return
	}

	all, err := store.List[types.Agent](s.store, store.CollectionAgents)
	if err != nil {
		writeError(w, err)
		return
	}
	inSector := 0
	for _, a := range all {
		if a.SectorID == req.SectorID {
			inSector++
		}
	}
	if inSector >= types.MaxAgentsPerSector {
		writeError(w, errs.InvariantViolation("max_agents_per_sector_reached"))
		return
	}
	if len(all) >= types.MaxTotalAgents {
		writeError(w, errs.InvariantViolation("max_total_agents_reached"))
		return
	}

	now := time.Now()
	agent := types.Agent{
		ID:          uuid.NewString(),
		SectorID:    req.SectorID,
		Name:        req.Name,
		Role:        req.Role,
		Personality: req.Personality,
		Status:      types.AgentIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := store.Upsert(s.store, store.CollectionAgents, agent); err != nil {
		writeError(w, err)
		return
	}
	if _, err := store.Mutate(s.store, store.CollectionSectors, req.SectorID, func(sec types.Sector) (types.Sector, error) {
		sec.AgentIDs = append(sec.AgentIDs, agent.ID)
		return sec, nil
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	agent, ok, err := store.FindByID[types.Agent](s.store, store.CollectionAgents, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, errs.NotFound("agent_not_found"))
		return
	}
	if agent.Role == types.RoleManager {
		writeError(w, errs.Validation("cannot_delete_manager"))
		return
	}
	if err := store.DeleteByID[types.Agent](s.store, store.CollectionAgents, id); err != nil {
		writeError(w, err)
		return
	}
	if _, err := store.Mutate(s.store, store.CollectionSectors, agent.SectorID, func(sec types.Sector) (types.Sector, error) {
		out := sec.AgentIDs[:0:0]
		for _, aid := range sec.AgentIDs {
			if aid != id {
				out = append(out, aid)
			}
		}
		sec.AgentIDs = out
		return sec, nil
	}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- discussions ----------------------------------------------------------

func (s *Server) handleListDiscussions(w http.ResponseWriter, r *http.Request) {
	sectorID := r.URL.Query().Get("sectorId")
	all, err := store.List[types.Discussion](s.store, store.CollectionDiscussions)
	if err != nil {
		writeError(w, err)
		return
	}
	if sectorID == "" {
		writeJSON(w, http.StatusOK, all)
		return
	}
	out := all[:0:0]
	for _, d := range all {
		if d.SectorID == sectorID {
			out = append(out, d)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDiscussion(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	d, ok, err := store.FindByID[types.Discussion](s.store, store.CollectionDiscussions, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, errs.NotFound("discussion_not_found"))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// --- execution logs -------------------------------------------------------

func (s *Server) handleListExecutionLogs(w http.ResponseWriter, r *http.Request) {
	sectorID := r.URL.Query().Get("sectorId")
	all, err := store.List[types.ExecutionLog](s.store, store.CollectionExecutionLogs)
	if err != nil {
		writeError(w, err)
		return
	}
	if sectorID == "" {
		writeJSON(w, http.StatusOK, all)
		return
	}
	out := all[:0:0]
	for _, l := range all {
		if l.SectorID == sectorID {
			out = append(out, l)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// --- websocket ------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(upgrader, w, r)
}

// --- helpers ----------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var e *errs.Error
	status := http.StatusInternalServerError
	reason := "internal_error"
	if errors.As(err, &e) {
		status = e.Kind.HTTPStatus()
		reason = e.Reason
	}
	writeJSON(w, status, map[string]string{"error": reason})
}
