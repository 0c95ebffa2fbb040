// Command hub-gateway bridges websocket clients onto a hub's frame
// stream. Each websocket session opens its own connection to the hub;
// JSON envelopes on the websocket side become wire frames on the hub
// side and vice versa.
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/wanhive/hub/internal/protocol"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  protocol.MTU,
	WriteBufferSize: protocol.MTU,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Envelope is the JSON shape exchanged with websocket clients.
type Envelope struct {
	Source      uint64 `json:"source,omitempty"`
	Destination uint64 `json:"destination"`
	Group       uint8  `json:"group,omitempty"`
	Sequence    uint16 `json:"sequence,omitempty"`
	Payload     []byte `json:"payload,omitempty"`
}

type gateway struct {
	hubAddress string
	sourceUID  uint64
	logger     *slog.Logger
}

func (g *gateway) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	session := uuid.NewString()
	logger := g.logger.With("session", session)

	hubConn, err := net.Dial("tcp", g.hubAddress)
	if err != nil {
		logger.Warn("hub connection failed", "error", err)
		_ = ws.Close()
		return
	}
	logger.Info("session opened", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go g.pumpFrames(ws, hubConn, logger, done)
	g.pumpEnvelopes(ws, hubConn, logger)

	_ = hubConn.Close()
	<-done
	_ = ws.Close()
	logger.Info("session closed")
}

// pumpEnvelopes reads JSON envelopes from the websocket and writes wire
// frames to the hub. It returns when the websocket side goes away.
func (g *gateway) pumpEnvelopes(ws *websocket.Conn, hubConn net.Conn, logger *slog.Logger) {
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	go func() {
		for range ping.C {
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()

	m := protocol.NewMessage()
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			logger.Warn("invalid envelope", "error", err)
			continue
		}
		m.Reset()
		m.SetSource(g.sourceUID)
		m.SetDestination(env.Destination)
		m.SetGroup(env.Group)
		m.SetSequence(env.Sequence)
		if err := m.SetPayload(env.Payload); err != nil {
			logger.Warn("oversized payload", "error", err)
			continue
		}
		if _, err := hubConn.Write(m.Pack()); err != nil {
			logger.Warn("hub write failed", "error", err)
			return
		}
	}
}

// pumpFrames reads wire frames from the hub and forwards them as JSON
// envelopes. It returns when the hub side goes away.
func (g *gateway) pumpFrames(ws *websocket.Conn, hubConn net.Conn, logger *slog.Logger, done chan struct{}) {
	defer close(done)
	var header [protocol.HeaderSize]byte
	frame := make([]byte, protocol.MTU)
	m := protocol.NewMessage()
	for {
		if _, err := io.ReadFull(hubConn, header[:]); err != nil {
			if err != io.EOF {
				logger.Warn("hub read failed", "error", err)
			}
			return
		}
		length := binary.BigEndian.Uint16(header[2:4])
		if length < protocol.HeaderSize || length > protocol.MTU {
			logger.Warn("corrupt frame from hub", "length", length)
			return
		}
		copy(frame, header[:])
		if _, err := io.ReadFull(hubConn, frame[protocol.HeaderSize:length]); err != nil {
			logger.Warn("hub read failed", "error", err)
			return
		}
		if err := m.Unpack(frame[:length]); err != nil {
			logger.Warn("corrupt frame from hub", "error", err)
			return
		}
		env := Envelope{
			Source:      m.Source(),
			Destination: m.Destination(),
			Group:       m.Group(),
			Sequence:    m.Sequence(),
			Payload:     m.Payload(),
		}
		data, err := json.Marshal(env)
		if err != nil {
			continue
		}
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Warn("websocket write failed", "error", err)
			return
		}
	}
}

func main() {
	_ = godotenv.Load()

	listen := flag.String("listen", ":8080", "websocket listen address")
	hubAddress := flag.String("hub", "127.0.0.1:9001", "hub frame endpoint")
	sourceUID := flag.Uint64("uid", 0, "source UID stamped on bridged frames")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	g := &gateway{
		hubAddress: *hubAddress,
		sourceUID:  *sourceUID,
		logger:     logger,
	}

	http.HandleFunc("/ws", g.handle)
	logger.Info("gateway listening", "address", *listen, "hub", *hubAddress)
	if err := http.ListenAndServe(*listen, nil); err != nil {
		logger.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}
