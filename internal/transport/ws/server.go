// Package ws is the trigger gateway: an external surface (chat platform,
// bot relay) connects over a websocket, says HELLO, and streams TRIGGER
// frames. Each trigger is answered with a REPLY carrying the bundled
// payloads, correlated by req_id.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"actionforge.gg/internal/engine"
	"actionforge.gg/internal/protocol"
)

type Server struct {
	engine  *engine.Engine
	log     *log.Logger
	timeout time.Duration

	upgrader websocket.Upgrader
}

func NewServer(e *engine.Engine, triggerTimeout time.Duration, logger *log.Logger) *Server {
	if triggerTimeout <= 0 {
		triggerTimeout = 10 * time.Second
	}
	return &Server{
		engine:  e,
		log:     logger,
		timeout: triggerTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		gateway, out := s.handshake(conn)
		if gateway == "" {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine: the reader never blocks on a slow peer.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeTrigger {
				continue
			}
			var trig protocol.TriggerMsg
			if err := json.Unmarshal(msg, &trig); err != nil {
				continue
			}
			if trig.ProtocolVersion != protocol.Version {
				s.reply(ctx, out, protocol.ReplyMsg{
					ReqID: trig.ReqID,
					Code:  protocol.ErrProtoBadRequest,
				}, "unsupported protocol_version")
				continue
			}
			if trig.DefinitionID == "" || trig.PrincipalID == "" {
				s.reply(ctx, out, protocol.ReplyMsg{
					ReqID: trig.ReqID,
					Code:  protocol.ErrProtoBadRequest,
				}, "definition_id and principal_id are required")
				continue
			}

			// One goroutine per in-flight trigger; the store serializes the
			// actual state changes, so ordering guarantees are unaffected.
			go s.serve(ctx, out, gateway, trig)
		}
	}
}

func (s *Server) serve(ctx context.Context, out chan []byte, gateway string, trig protocol.TriggerMsg) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.engine.HandleTrigger(ctx, engine.Trigger{
		DefinitionID: trig.DefinitionID,
		PrincipalID:  trig.PrincipalID,
		LocationID:   trig.LocationID,
	})
	if err != nil {
		code := protocol.ErrInternal
		msg := "internal error"
		var ce *engine.Error
		if errors.As(err, &ce) {
			code, msg = ce.Code, ce.Msg
		} else if errors.Is(err, context.DeadlineExceeded) {
			code, msg = protocol.ErrTimeout, "trigger timed out"
		}
		s.log.Printf("trigger %s from %s: %s", trig.DefinitionID, gateway, err)
		s.reply(ctx, out, protocol.ReplyMsg{ReqID: trig.ReqID, Code: code}, msg)
		return
	}
	s.reply(ctx, out, protocol.ReplyMsg{
		ReqID:    trig.ReqID,
		OK:       true,
		Payloads: res.Payloads,
	}, "")
}

func (s *Server) reply(ctx context.Context, out chan []byte, r protocol.ReplyMsg, msg string) {
	r.Type = protocol.TypeReply
	r.ProtocolVersion = protocol.Version
	r.Message = msg
	b, err := json.Marshal(r)
	if err != nil {
		return
	}
	select {
	case out <- b:
	case <-ctx.Done():
	}
}

func (s *Server) handshake(conn *websocket.Conn) (gateway string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}
	if hello.GatewayName == "" {
		hello.GatewayName = "gateway"
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 16
	}
	if maxQ > 256 {
		maxQ = 256
	}
	out = make(chan []byte, maxQ)

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		EngineID:        "actionforge",
	}
	b, _ := json.Marshal(welcome)
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return "", nil
	}
	return hello.GatewayName, out
}
