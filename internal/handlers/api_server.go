// internal/handlers/api_server.go
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/blastparty/blastparty/internal/database"
	"github.com/blastparty/blastparty/internal/middleware"
	"github.com/blastparty/blastparty/internal/room"
	"github.com/blastparty/blastparty/internal/service"
)

// PingHandler responds to health checks.
func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

// MatchHistoryHandler serves finished matches for a lobby, newest
// first. GET /matches?lobbyId=...&limit=20. Returns 404 when no match
// store is configured.
func MatchHistoryHandler(logger *logrus.Logger, store *database.MatchStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "match history not configured", http.StatusNotFound)
			return
		}
		lobbyID := r.URL.Query().Get("lobbyId")
		if lobbyID == "" {
			http.Error(w, "missing lobbyId", http.StatusBadRequest)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		recs, err := store.ListMatchesByLobby(r.Context(), lobbyID, limit)
		if err != nil {
			logger.Warnf("match history query failed for lobby %s: %v", lobbyID, err)
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(recs); err != nil {
			logger.Warnf("match history encode failed: %v", err)
		}
	}
}

// NewServer assembles the HTTP mux: websocket endpoint, health check,
// and match history, with request logging on the plain HTTP routes.
func NewServer(logger *logrus.Logger, svc *service.LobbyService, rtm *room.RuntimeManager, store *database.MatchStore) http.Handler {
	logged := middleware.RequestLogger(logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", WSHandler(logger, svc, rtm))
	mux.Handle("/", logged(http.HandlerFunc(PingHandler)))
	mux.Handle("/matches", logged(MatchHistoryHandler(logger, store)))
	return mux
}
