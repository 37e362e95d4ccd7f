// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/blastparty/blastparty/internal/middleware"
	"github.com/blastparty/blastparty/internal/protocol"
	"github.com/blastparty/blastparty/internal/room"
	"github.com/blastparty/blastparty/internal/service"
)

// Subprotocol every client must negotiate on the /ws endpoint.
const Subprotocol = "blastparty"

const outboundBuffer = 32

// wsClient adapts one websocket connection to the room.Conn port: a
// stable id and a non-blocking frame push backed by a buffered channel
// the write pump drains.
type wsClient struct {
	id  string
	out chan protocol.Envelope
	log *logrus.Logger
}

func (c *wsClient) ID() string { return c.id }

// Send never blocks the simulation or lobby goroutines. A client that
// cannot keep up loses frames; the next snapshot restores its view.
func (c *wsClient) Send(env protocol.Envelope) {
	select {
	case c.out <- env:
	default:
		c.log.Warnf("conn %s: outbound buffer full, dropping %s", c.id, env.Type)
	}
}

// WSHandler upgrades /ws connections and pumps envelopes between the
// socket and the lobby/game services. One goroutine writes, the
// handler goroutine reads until the connection dies.
func WSHandler(logger *logrus.Logger, svc *service.LobbyService, rtm *room.RuntimeManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{Subprotocol},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != Subprotocol {
			c.Close(websocket.StatusPolicyViolation, "client must speak the blastparty subprotocol")
			return
		}

		client := &wsClient{
			id:  uuid.NewString(),
			out: make(chan protocol.Envelope, outboundBuffer),
			log: logger,
		}

		middleware.LogSocketOpen(logger, client.id, remoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		go writePump(ctx, c, client, logger)

		readErr := readPump(ctx, c, client, svc, rtm, logger)

		// ---- Cleanup after readPump exits ----
		cancel()
		svc.ConnectionClosed(client)
		rtm.ConnectionClosed(client)
		middleware.LogSocketClose(logger, client.id, remoteAddr, readErr)
	}
}

// readPump decodes inbound envelopes and routes them: game.* frames go
// to the room runtime manager, everything else to the lobby service.
// Returns when the connection closes or the context is cancelled.
func readPump(ctx context.Context, c *websocket.Conn, client *wsClient, svc *service.LobbyService, rtm *room.RuntimeManager, logger *logrus.Logger) error {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				return nil
			}
			return err
		}

		if typ != websocket.MessageText {
			logger.Warnf("conn %s: non-text message type %d, ignoring", client.id, typ)
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			client.Send(protocol.NewEnvelope(protocol.TypeLobbyError,
				protocol.NewClientError(protocol.ErrInvalidState, "invalid JSON frame")))
			continue
		}
		if env.V != protocol.Version {
			client.Send(protocol.NewEnvelope(protocol.TypeLobbyError,
				protocol.NewClientError(protocol.ErrInvalidState, "unsupported protocol version")))
			continue
		}

		var cerr *protocol.ClientError
		if strings.HasPrefix(env.Type, "game.") {
			cerr = rtm.HandleGameMessage(client, svc.BoundPlayerID(client), env)
		} else {
			cerr = svc.HandleLobbyMessage(client, env)
		}
		if cerr != nil {
			client.Send(protocol.NewEnvelope(protocol.TypeLobbyError, cerr))
		}
	}
}

// writePump drains the client's outbound channel onto the socket and
// pings periodically so dead peers are detected.
func writePump(ctx context.Context, c *websocket.Conn, client *wsClient, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("conn %s: ping failed: %v", client.id, err)
				return
			}
		case env := <-client.out:
			data, err := json.Marshal(env)
			if err != nil {
				logger.Warnf("conn %s: failed to marshal outgoing %s: %v", client.id, env.Type, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("conn %s: write failed: %v", client.id, err)
				return
			}
		}
	}
}
