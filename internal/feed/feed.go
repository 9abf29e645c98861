package feed

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tiiuae/flightsession/internal/telemetry"
	"github.com/tiiuae/flightsession/internal/types"
)

const (
	inboxSize    = 256
	writeTimeout = time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

type status struct {
	Stats    types.SessionStats      `json:"stats"`
	Aircraft telemetry.AircraftState `json:"aircraft"`
	Clients  int                     `json:"clients"`
}

// Feed streams bus messages to websocket clients and serves the latest
// session counters on /status. Clients may send operator commands back.
type Feed struct {
	addr  string
	inbox chan types.Message

	mu       sync.Mutex
	clients  map[*websocket.Conn]bool
	stats    types.SessionStats
	aircraft telemetry.AircraftState
	post     types.PostFn
}

// New creates a feed listening on addr. An empty addr only serves through Handler.
func New(addr string) *Feed {
	return &Feed{
		addr:     addr,
		inbox:    make(chan types.Message, inboxSize),
		clients:  map[*websocket.Conn]bool{},
		aircraft: telemetry.Unknown(),
	}
}

func (f *Feed) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", f.handleWS)
	mux.HandleFunc("/status", f.handleStatus)
	return mux
}

func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Receive queues a message for broadcast. Slow clients never block the bus.
func (f *Feed) Receive(message types.Message) {
	select {
	case f.inbox <- message:
	default:
	}
}

func (f *Feed) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	wg.Add(1)
	defer wg.Done()

	f.mu.Lock()
	f.post = post
	f.mu.Unlock()

	var server *http.Server
	if f.addr != "" {
		server = &http.Server{Addr: f.addr, Handler: f.Handler()}
		go func() {
			log.Printf("Feed: listening on %s", f.addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Feed: %v", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("Feed: shutting down")
			if server != nil {
				_ = server.Close()
			}
			f.closeClients()
			return
		case msg := <-f.inbox:
			f.handleMessage(msg)
		}
	}
}

func (f *Feed) handleMessage(msg types.Message) {
	f.mu.Lock()
	switch m := msg.Message.(type) {
	case types.SessionStats:
		f.stats = m
	case telemetry.AircraftState:
		f.aircraft = m
	}
	f.mu.Unlock()

	if msg.MessageType == types.MessageOperatorCommand {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Feed: could not marshal %s: %v", msg.MessageType, err)
		return
	}
	f.broadcast(b)
}

func (f *Feed) handleStatus(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	s := status{Stats: f.stats, Aircraft: f.aircraft, Clients: len(f.clients)}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s); err != nil {
		log.Printf("Feed: status: %v", err)
	}
}

func (f *Feed) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.clients[conn] = true
	f.mu.Unlock()

	go func() {
		defer func() {
			f.mu.Lock()
			delete(f.clients, conn)
			f.mu.Unlock()
			if err := conn.Close(); err != nil {
				log.Printf("Feed: failed to close websocket: %v", err)
			}
		}()
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				break
			}
			f.handleCommand(payload)
		}
	}()
}

func (f *Feed) handleCommand(payload []byte) {
	var cmd types.OperatorCommand
	if err := json.Unmarshal(payload, &cmd); err != nil || cmd.Command == "" {
		log.Printf("Feed: ignoring client message: %s", payload)
		return
	}

	f.mu.Lock()
	post := f.post
	f.mu.Unlock()
	if post == nil {
		return
	}
	post(types.CreateMessage(types.MessageOperatorCommand, "feed", "session", cmd))
}

// broadcast writes outside the lock. A stalled client delays only the
// broadcast loop, not /status or new connections.
func (f *Feed) broadcast(b []byte) {
	f.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(f.clients))
	for c := range f.clients {
		clients = append(clients, c)
	}
	f.mu.Unlock()

	for _, c := range clients {
		_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			log.Printf("Feed: dropping client: %v", err)
			f.mu.Lock()
			delete(f.clients, c)
			f.mu.Unlock()
			_ = c.Close()
		}
	}
}

func (f *Feed) closeClients() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		_ = c.Close()
		delete(f.clients, c)
	}
}
