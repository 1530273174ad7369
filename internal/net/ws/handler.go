package ws

import (
	"context"
	"errors"
	nethttp "net/http"
	"time"

	"github.com/gorilla/websocket"

	"lightcycle/internal/net/proto"
	"lightcycle/internal/relay"
	"lightcycle/internal/telemetry"
	"lightcycle/logging"
	"lightcycle/logging/network"
)

// maxFrameBytes bounds a single inbound envelope.
const maxFrameBytes = 64 << 10

type HandlerConfig struct {
	Logger    telemetry.Logger
	Publisher logging.Publisher
}

// Handler upgrades relay connections and pumps their envelopes into the hub.
type Handler struct {
	hub       *relay.Hub
	logger    telemetry.Logger
	publisher logging.Publisher
	upgrader  websocket.Upgrader
}

func NewHandler(hub *relay.Hub, cfg HandlerConfig) *Handler {
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:       hub,
		logger:    telemetry.OrDiscard(cfg.Logger),
		publisher: publisher,
		upgrader:  upgrader,
	}
}

func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	member, err := h.hub.Join(connAdapter{conn: conn})
	if err != nil {
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
		conn.Close()
		return
	}

	h.serve(member, conn)
}

func (h *Handler) serve(member relay.Member, conn *websocket.Conn) {
	publisher := logging.WithFields(h.publisher, map[string]any{
		"traceId": member.TraceID,
		"remote":  conn.RemoteAddr().String(),
	})
	actor := logging.PeerRef(member.ID)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.hub.Leave(member.ID)
			return
		}

		env, err := proto.DecodeEnvelope(payload)
		if err != nil {
			h.logger.Printf("discarding malformed message from %s: %v", member.ID, err)
			network.DecodeFailed(context.Background(), publisher, actor, network.DecodeFailedPayload{Error: err.Error(), Bytes: len(payload)}, nil)
			continue
		}
		network.EnvelopeReceived(context.Background(), publisher, actor, network.EnvelopePayload{
			Type:        env.TypeName(),
			Destination: env.Destination,
			Bytes:       len(payload),
		}, nil)

		switch err := h.hub.Handle(member.ID, env); {
		case err == nil, errors.Is(err, relay.ErrRateLimited):
		case errors.Is(err, relay.ErrUnknownPeer):
			conn.Close()
			return
		default:
			h.logger.Printf("failed to handle %s from %s: %v", env.TypeName(), member.ID, err)
		}
	}
}

type connAdapter struct {
	conn *websocket.Conn
}

func (c connAdapter) Write(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c connAdapter) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

func (c connAdapter) Close() error {
	return c.conn.Close()
}
