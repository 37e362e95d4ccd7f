package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/sirupsen/logrus"

	"github.com/blastparty/blastparty/internal/auth"
	"github.com/blastparty/blastparty/internal/cache"
	"github.com/blastparty/blastparty/internal/clock"
	"github.com/blastparty/blastparty/internal/database"
	"github.com/blastparty/blastparty/internal/engine"
	"github.com/blastparty/blastparty/internal/game/bomb"
	"github.com/blastparty/blastparty/internal/handlers"
	"github.com/blastparty/blastparty/internal/lobby"
	"github.com/blastparty/blastparty/internal/room"
	"github.com/blastparty/blastparty/internal/service"
)

var flags Flags

type Flags struct {
	verbose bool
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-v" {
			flags.verbose = true
		}
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if flags.verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Debug("verbose mode enabled")
	}

	secret := os.Getenv("SESSION_SECRET")
	if secret == "" {
		logger.Fatal("SESSION_SECRET must be set")
	}

	// Storage backends are optional: absent env means matches are not
	// persisted, but rooms still run and finish cleanly.
	var recorders room.MultiRecorder
	var matchStore *database.MatchStore
	if os.Getenv("PG_HOST") != "" {
		database.ConnectDB()
		defer database.DB.Close()
		matchStore = database.NewMatchStore(database.DB)
		recorders = append(recorders, matchStore)
	}
	if os.Getenv("REDIS_ADDR") != "" {
		if err := cache.ConnectRedis(); err != nil {
			logger.Fatalf("redis: %v", err)
		}
		recorders = append(recorders, cache.NewMatchPublisher(cache.Rdb))
	}
	var recorder room.MatchRecorder = recorders
	if len(recorders) == 0 {
		logger.Warn("no match storage configured, finished matches will not be persisted")
		recorder = room.NoopRecorder{}
	}

	sched := clock.NewReal()

	registry := engine.NewRegistry()
	registry.Register(bomb.NewModule())
	logger.Infof("registered game modules: %v", registry.IDs())

	machine := lobby.NewMachine(sched.Now)
	rooms := room.NewManager(sched.Now)
	tokens := auth.NewTokenService([]byte(secret), envDuration("SESSION_TTL", 0), sched)

	var svc *service.LobbyService
	rtm := room.NewRuntimeManager(room.RuntimeManagerConfig{
		Registry:    registry,
		Rooms:       rooms,
		Recorder:    recorder,
		Scheduler:   sched,
		Logger:      logger,
		IdleTimeout: envDuration("ROOM_IDLE_TIMEOUT", 0),
		MatchEnded: func(lobbyID, roomID, reason string) {
			svc.MatchEnded(lobbyID, roomID, reason)
		},
	})
	svc = service.NewLobbyService(service.Config{
		Machine:        machine,
		Rooms:          rooms,
		Runtimes:       rtm,
		Tokens:         tokens,
		Scheduler:      sched,
		Logger:         logger,
		TickRate:       envInt("TICK_RATE", 0),
		ReconnectGrace: envDuration("RECONNECT_GRACE", 0),
	})

	server := &http.Server{
		Handler:      handlers.NewServer(logger, svc, rtm, matchStore),
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
	}

	port := os.Getenv("BLASTPARTY_PORT")
	if port == "" {
		port = "8080"
	}
	l, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		logger.Fatalf("failed to listen: %v", err)
	}
	logger.Infof("listening on %s", l.Addr())

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(l)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	select {
	case err := <-errc:
		logger.Errorf("failed to serve: %v", err)
	case sig := <-sigs:
		logger.Infof("terminating: %v", sig)
	}
}

func envInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
