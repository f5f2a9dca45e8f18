package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/wricardo/mapnudge-relay/relay/protocol"
	"github.com/wricardo/mapnudge-relay/relay/room"
)

// Transport is the live connection layer the server exposes at /ws.
type Transport interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	ConnectionCount() int
}

// Server represents the HTTP diagnostics server
type Server struct {
	registry  *room.Registry
	transport Transport
	router    *mux.Router
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithClock overrides the clock used for the status timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates a new API server
func NewServer(registry *room.Registry, transport Transport, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry:  registry,
		transport: transport,
		router:    mux.NewRouter(),
		logger:    logger.Named("api"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Use(s.recoverMiddleware, corsMiddleware)

	s.router.HandleFunc("/", s.handleStatus).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/rooms", s.handleListRooms).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/room/{roomId}", s.handleGetRoom).Methods(http.MethodGet, http.MethodOptions)

	// WebSocket
	if s.transport != nil {
		s.router.HandleFunc("/ws", s.transport.ServeWS)
	}
}

// Mount attaches an extra handler, e.g. the MCP endpoint, under the same
// middleware chain.
func (s *Server) Mount(path string, h http.Handler, methods ...string) {
	route := s.router.Handle(path, h)
	if len(methods) > 0 {
		route.Methods(append(methods, http.MethodOptions)...)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	connections := 0
	if s.transport != nil {
		connections = s.transport.ConnectionCount()
	}

	respondJSON(w, http.StatusOK, StatusResponse{
		Message:        "Location Sharing Server is running!",
		Timestamp:      protocol.Timestamp(s.now()),
		ActiveRooms:    s.registry.RoomCount(),
		ConnectedUsers: s.registry.MemberCount(),
		Connections:    connections,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.registry.Rooms()
	respondJSON(w, http.StatusOK, RoomListResponse{
		Count: len(rooms),
		Rooms: newRoomSummaries(rooms),
	})
}

// handleGetRoom answers 200 in both cases; exists tells them apart.
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	snap, ok := s.registry.GetRoom(roomID)
	if !ok {
		respondJSON(w, http.StatusOK, RoomResponse{
			Exists:  false,
			Users:   []string{},
			Message: "Room not found",
		})
		return
	}

	users := snap.MemberIDs()
	locations := make(map[string]MemberLocation, len(users))
	for _, userID := range users {
		m, _ := snap.Member(userID)
		entry := MemberLocation{ConnectionID: m.ConnectionID}
		if m.Location != nil {
			lat, lon := m.Location.Latitude, m.Location.Longitude
			at := protocol.Timestamp(m.Location.UpdatedAt)
			entry.Latitude = &lat
			entry.Longitude = &lon
			entry.LastUpdate = &at
		}
		locations[userID] = entry
	}

	createdAt := protocol.Timestamp(snap.CreatedAt)
	respondJSON(w, http.StatusOK, RoomResponse{
		Exists:    true,
		Users:     users,
		UserCount: len(users),
		CreatedAt: &createdAt,
		Locations: locations,
	})
}
