// relay-sim is a development stand-in for the realtime relay. It speaks just
// enough of the Pusher wire protocol for scannerd to connect, authenticate a
// channel subscription, and receive periodic attendance events.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/trillsolutions/scanner-app/internal/realtime"
)

type attendancePayload struct {
	StudentName string `json:"student_name"`
	ClassName   string `json:"class"`
	ScanTime    string `json:"scan_time"`
	Status      string `json:"attendance_status"`
	ScanType    string `json:"scan_type"`
}

type relay struct {
	key      string
	secret   string
	channel  string
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) write(env realtime.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(env)
}

func main() {
	bind := flag.String("bind", ":6001", "Address to listen on")
	key := flag.String("key", "local-app-key", "Application key clients must present")
	secret := flag.String("secret", "local-app-secret", "Shared secret for channel authorization")
	channel := flag.String("channel", "attendance", "Channel to accept subscriptions for")
	interval := flag.Duration("interval", 5*time.Second, "Interval between broadcast attendance events")

	flag.Parse()

	r := &relay{
		key:     *key,
		secret:  *secret,
		channel: *channel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}),
	}

	router := mux.NewRouter()
	router.HandleFunc("/app/{key}", r.handleConnection)

	server := &http.Server{Addr: *bind, Handler: router}

	go func() {
		log.Printf("relay simulator listening on %s (channel %q)", *bind, *channel)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen error: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, closing")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = server.Shutdown(shutdownCtx)
			cancel()
			return
		case <-ticker.C:
			r.broadcast()
		}
	}
}

func (r *relay) handleConnection(w http.ResponseWriter, req *http.Request) {
	if mux.Vars(req)["key"] != r.key {
		http.Error(w, "unknown application key", http.StatusUnauthorized)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("upgrade failed: %v", err)
		return
	}

	sub := &subscriber{conn: conn}
	socketID := fmt.Sprintf("%d.%d", rand.Intn(1_000_000), rand.Intn(1_000_000))

	defer func() {
		r.mu.Lock()
		delete(r.subs, sub)
		r.mu.Unlock()
		_ = conn.Close()
		log.Printf("connection %s closed", socketID)
	}()

	handshake, err := doubleEncode(map[string]any{
		"socket_id":        socketID,
		"activity_timeout": 120,
	})
	if err != nil {
		log.Printf("encode handshake: %v", err)
		return
	}
	if err := sub.write(realtime.Envelope{Event: realtime.EventConnectionEstablished, Data: handshake}); err != nil {
		log.Printf("send handshake: %v", err)
		return
	}
	log.Printf("connection %s established", socketID)

	for {
		var env realtime.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}

		switch env.Event {
		case realtime.EventSubscribe:
			var body struct {
				Channel string `json:"channel"`
				Auth    string `json:"auth"`
			}
			if err := json.Unmarshal(env.Data, &body); err != nil {
				r.refuse(sub, "malformed subscribe request")
				return
			}
			if body.Channel != r.channel {
				r.refuse(sub, fmt.Sprintf("unknown channel %q", body.Channel))
				return
			}
			if !realtime.VerifyChannelAuth(body.Auth, r.key, r.secret, socketID, body.Channel) {
				r.refuse(sub, "invalid channel authorization")
				return
			}

			r.mu.Lock()
			r.subs[sub] = struct{}{}
			r.mu.Unlock()

			ack := realtime.Envelope{
				Event:   realtime.EventSubscriptionSucceeded,
				Channel: body.Channel,
				Data:    json.RawMessage(`"{}"`),
			}
			if err := sub.write(ack); err != nil {
				return
			}
			log.Printf("connection %s subscribed to %s", socketID, body.Channel)
		case realtime.EventPing:
			if err := sub.write(realtime.Envelope{Event: realtime.EventPong, Data: json.RawMessage(`{}`)}); err != nil {
				return
			}
		default:
			log.Printf("connection %s sent unhandled event %q", socketID, env.Event)
		}
	}
}

func (r *relay) refuse(sub *subscriber, message string) {
	data, err := doubleEncode(map[string]any{"message": message, "code": 4009})
	if err != nil {
		return
	}
	_ = sub.write(realtime.Envelope{Event: realtime.EventError, Data: data})
}

var sampleStudents = []attendancePayload{
	{StudentName: "Alice Johnson", ClassName: "5A", Status: "P", ScanType: "IN"},
	{StudentName: "Brian Okafor", ClassName: "5A", Status: "L", ScanType: "IN"},
	{StudentName: "Chen Wei", ClassName: "6B", Status: "P", ScanType: "OUT"},
}

func (r *relay) broadcast() {
	payload := sampleStudents[rand.Intn(len(sampleStudents))]
	payload.ScanTime = time.Now().UTC().Format(time.RFC3339)

	data, err := doubleEncode(payload)
	if err != nil {
		log.Printf("encode event: %v", err)
		return
	}

	env := realtime.Envelope{
		Event:   "attendance.recorded",
		Channel: r.channel,
		Data:    data,
	}

	r.mu.Lock()
	targets := make([]*subscriber, 0, len(r.subs))
	for sub := range r.subs {
		targets = append(targets, sub)
	}
	r.mu.Unlock()

	for _, sub := range targets {
		if err := sub.write(env); err != nil {
			log.Printf("broadcast write failed, dropping subscriber: %v", err)
			r.mu.Lock()
			delete(r.subs, sub)
			r.mu.Unlock()
			_ = sub.conn.Close()
		}
	}

	if len(targets) > 0 {
		log.Printf("broadcast %s for %s to %d subscriber(s)", env.Event, payload.StudentName, len(targets))
	}
}

// doubleEncode marshals v, then wraps the result in a JSON string, matching
// how the relay frames event data.
func doubleEncode(v any) (json.RawMessage, error) {
	inner, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	outer, err := json.Marshal(string(inner))
	if err != nil {
		return nil, err
	}
	return outer, nil
}
