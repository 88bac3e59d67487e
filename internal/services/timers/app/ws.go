package app

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/platform/timeouts"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/broadcast"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/event"
	"golang.org/x/net/websocket"
)

const maxWSDecodeErrors = 3

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type wsSubscribePayload struct {
	GroupID string `json:"group_id"`
}

type wsSubscribedPayload struct {
	GroupID string `json:"group_id"`
	Channel string `json:"channel"`
}

type wsErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsPeer serializes frame writes for one connection. Every write carries a
// deadline so a stalled subscriber cannot wedge the forwarding goroutine.
type wsPeer struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	encoder *json.Encoder
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	return &wsPeer{conn: conn, encoder: json.NewEncoder(conn)}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(timeouts.BroadcastWrite))
	return p.encoder.Encode(frame)
}

// handleWS streams condition-timer events for one subscribed group.
//
// A connection holds at most one subscription; subscribing again moves it to
// the new group's channel.
func (h handlers) handleWS(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	peer := newWSPeer(conn)

	var subscription *broadcast.Subscription
	var forwardDone chan struct{}
	stopForwarding := func() {
		if subscription == nil {
			return
		}
		subscription.Close()
		<-forwardDone
		subscription = nil
		forwardDone = nil
	}
	defer stopForwarding()

	decodeErrors := 0
	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(peer, "", "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxWSDecodeErrors {
				return
			}
			continue
		}
		decodeErrors = 0

		switch frame.Type {
		case "timers.subscribe":
			var payload wsSubscribePayload
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "invalid subscribe payload")
				continue
			}
			groupID := strings.TrimSpace(payload.GroupID)
			if groupID == "" {
				_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "group_id is required")
				continue
			}

			stopForwarding()
			channel := event.GroupChannel(groupID)
			subscription = h.hub.Subscribe(channel, 32)
			forwardDone = make(chan struct{})
			go forwardEvents(subscription, peer, forwardDone)

			_ = peer.writeFrame(wsFrame{
				Type:      "timers.subscribed",
				RequestID: frame.RequestID,
				Payload:   mustJSON(wsSubscribedPayload{GroupID: groupID, Channel: channel}),
			})
		default:
			_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

func forwardEvents(subscription *broadcast.Subscription, peer *wsPeer, done chan struct{}) {
	defer close(done)
	for frame := range subscription.C {
		if err := peer.writeFrame(wsFrame{Type: "timers.event", Payload: mustJSON(frame)}); err != nil {
			// Connection is gone; drain until the subscription closes.
			for range subscription.C {
			}
			return
		}
	}
}

func writeWSError(peer *wsPeer, requestID string, code string, message string) error {
	return peer.writeFrame(wsFrame{
		Type:      "timers.error",
		RequestID: requestID,
		Payload:   mustJSON(wsErrorEnvelope{Code: code, Message: message}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
