package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/activity-radar/internal/catalog"
	"github.com/example/activity-radar/internal/filter"
	"github.com/example/activity-radar/internal/gamification"
	"github.com/example/activity-radar/internal/locate"
	"github.com/example/activity-radar/internal/mapbridge"
	"github.com/example/activity-radar/internal/models"
	"github.com/example/activity-radar/internal/prefs"
	"github.com/example/activity-radar/internal/session"
	"github.com/example/activity-radar/internal/taxonomy"
)

type Server struct {
	sessions      *session.Manager
	widgetPolicy  mapbridge.AwaitPolicy
	locateTimeout time.Duration
	health        func(ctx context.Context) error
	logger        *slog.Logger
	upgrader      websocket.Upgrader
	mux           *mux.Router
}

type Option func(*Server)

// WithWidgetPolicy bounds how long /locate waits for a late map widget.
func WithWidgetPolicy(p mapbridge.AwaitPolicy) Option {
	return func(s *Server) { s.widgetPolicy = p }
}

func WithLocateTimeout(d time.Duration) Option {
	return func(s *Server) { s.locateTimeout = d }
}

// WithHealthCheck makes /healthz report backend reachability.
func WithHealthCheck(fn func(ctx context.Context) error) Option {
	return func(s *Server) { s.health = fn }
}

func NewServer(sessions *session.Manager, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		sessions:      sessions,
		widgetPolicy:  mapbridge.DefaultAwaitPolicy(),
		locateTimeout: 40 * time.Second,
		logger:        logger,
		upgrader:      websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		mux:           mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/zones", s.handleZones).Methods(http.MethodGet)
	api.HandleFunc("/vibes", s.handleVibes).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)

	sess := api.PathPrefix("/sessions/{id}").Subrouter()
	sess.HandleFunc("/items", s.handleItems).Methods(http.MethodGet)
	sess.HandleFunc("/results", s.handleResults).Methods(http.MethodGet)
	sess.HandleFunc("/criteria", s.handleGetCriteria).Methods(http.MethodGet)
	sess.HandleFunc("/criteria", s.handleSetCriteria).Methods(http.MethodPut)
	sess.HandleFunc("/vibe/{vibe}", s.handleSelectVibe).Methods(http.MethodPost)
	sess.HandleFunc("/position", s.handleGetPosition).Methods(http.MethodGet)
	sess.HandleFunc("/position", s.handleSetPosition).Methods(http.MethodPut)
	sess.HandleFunc("/position", s.handleClearPosition).Methods(http.MethodDelete)
	sess.HandleFunc("/locate", s.handleLocate).Methods(http.MethodPost)
	sess.HandleFunc("/favorites", s.handleFavorites).Methods(http.MethodGet)
	sess.HandleFunc("/favorites/{item_id}", s.handleToggleFavorite).Methods(http.MethodPost)
	sess.HandleFunc("/views/{item_id}", s.handleView).Methods(http.MethodPost)
	sess.HandleFunc("/achievements", s.handleAchievements).Methods(http.MethodGet)
	sess.HandleFunc("/counters", s.handleCounters).Methods(http.MethodGet)
	sess.HandleFunc("/prefs", s.handleGetPrefs).Methods(http.MethodGet)
	sess.HandleFunc("/prefs", s.handleSetPrefs).Methods(http.MethodPut)

	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleZones(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, taxonomy.Zones())
}

func (s *Server) handleVibes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, taxonomy.Vibes())
}

type createSessionRequest struct {
	ID string `json:"id"`
}

type sessionResponse struct {
	ID       string           `json:"id"`
	Prefs    prefs.Prefs      `json:"prefs"`
	Counters session.Counters `json:"counters"`
	Items    []session.Result `json:"items"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	sess, err := s.sessions.Create(r.Context(), req.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		ID:       sess.ID,
		Prefs:    sess.Prefs(),
		Counters: sess.Counters(),
		Items:    sess.Results(),
	})
}

type itemsResponse struct {
	Items    []session.Result `json:"items"`
	Counters session.Counters `json:"counters"`
	Pending  bool             `json:"pending,omitempty"`
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	c, err := filter.ParseQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items := sess.Items(c)
	writeJSON(w, http.StatusOK, itemsResponse{Items: items, Counters: sess.Counters()})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, itemsResponse{Items: sess.Results(), Counters: sess.Counters(), Pending: sess.Pending()})
}

func (s *Server) handleGetCriteria(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Criteria())
}

func (s *Server) handleSetCriteria(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var c filter.Criteria
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if c.MaxDistanceKm < 0 {
		writeError(w, http.StatusBadRequest, "max_distance_km must be >= 0")
		return
	}
	if c.Vibe != "" {
		if _, ok := taxonomy.LookupVibe(c.Vibe); !ok {
			writeError(w, http.StatusBadRequest, "unknown vibe "+c.Vibe)
			return
		}
	}
	sess.SetCriteria(c)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSelectVibe(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["vibe"]
	if _, ok := taxonomy.LookupVibe(id); !ok {
		writeError(w, http.StatusNotFound, "unknown vibe")
		return
	}
	c := sess.Criteria()
	c.SelectVibe(id)
	sess.SetCriteria(c)
	writeJSON(w, http.StatusAccepted, c)
}

func (s *Server) handleSetPosition(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var c models.Coord
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}
	sess.SetPosition(models.Position{Coord: c, Source: models.SourceManual})
	writeJSON(w, http.StatusOK, itemsResponse{Items: sess.Results(), Counters: sess.Counters()})
}

type positionResponse struct {
	Position *models.Position `json:"position"`
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var resp positionResponse
	if p, ok := sess.Position(); ok {
		resp.Position = &p
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClearPosition(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.ClearPosition()
	w.WriteHeader(http.StatusNoContent)
}

type locateResponse struct {
	Position models.Position `json:"position"`
	Zoom     int             `json:"zoom"`
	Stage    string          `json:"stage"`
}

type locateFailure struct {
	Error   string `json:"error"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.locateTimeout)
	defer cancel()

	bridge := sess.Bridge()
	if !bridge.Attached() && !bridge.Degraded() {
		if err := bridge.AwaitWidget(ctx, s.widgetPolicy); err != nil {
			s.logger.Info("locating without map widget", "session", sess.ID, "error", err)
		}
	}

	fix, err := sess.Locate(ctx)
	if err != nil {
		var lerr *locate.Error
		switch {
		case errors.Is(err, locate.ErrInProgress):
			writeError(w, http.StatusConflict, err.Error())
		case errors.As(err, &lerr):
			writeJSON(w, http.StatusUnprocessableEntity, locateFailure{
				Error:   "location unavailable",
				Reason:  string(lerr.Reason),
				Message: lerr.Message(),
			})
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, locateResponse{Position: fix.Position, Zoom: fix.Zoom, Stage: fix.Stage})
}

func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ids": sess.Favorites()})
}

type unlockResponse struct {
	Liked    *bool                      `json:"liked,omitempty"`
	Unlocked []gamification.Achievement `json:"unlocked"`
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	liked, fresh, err := sess.ToggleFavorite(r.Context(), models.ItemID(mux.Vars(r)["item_id"]))
	if err != nil {
		writeItemError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unlockResponse{Liked: &liked, Unlocked: nonNil(fresh)})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	fresh, err := sess.RecordView(r.Context(), models.ItemID(mux.Vars(r)["item_id"]))
	if err != nil {
		writeItemError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unlockResponse{Unlocked: nonNil(fresh)})
}

func writeItemError(w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrUnknownItem) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func nonNil(a []gamification.Achievement) []gamification.Achievement {
	if a == nil {
		return []gamification.Achievement{}
	}
	return a
}

type achievementsResponse struct {
	gamification.State
	Available []gamification.Achievement `json:"available"`
}

func (s *Server) handleAchievements(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, achievementsResponse{State: sess.Achievements(), Available: gamification.All()})
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Counters())
}

func (s *Server) handleGetPrefs(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Prefs())
}

type prefsRequest struct {
	Theme     *prefs.Theme `json:"theme"`
	RebelMode *bool        `json:"rebel_mode"`
}

func (s *Server) handleSetPrefs(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req prefsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := sess.UpdatePrefs(r.Context(), req.Theme, req.RebelMode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleWS attaches the map widget of a session. The connection stays
// open until the widget goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session", sess.ID, "error", err)
		return
	}
	s.logger.Info("map widget attached", "session", sess.ID)
	if err := sess.Bridge().Serve(conn); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.logger.Warn("map widget connection ended", "session", sess.ID, "error", err)
		return
	}
	s.logger.Info("map widget detached", "session", sess.ID)
}
