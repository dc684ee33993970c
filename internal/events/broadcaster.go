package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

// Event kinds pushed to live-update subscribers.
const (
	StudentAdded         = "student_added"
	StudentDeleted       = "student_deleted"
	AttendanceUpdated    = "attendance_updated"
	AbsenceReasonUpdated = "absence_reason_updated"
	DaySaved             = "day_saved"
	StudentsImported     = "students_imported"
)

type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const writeTimeout = 10 * time.Second

// Broadcaster fans events out to every connected websocket client. With a
// redis client configured, events travel through a pub/sub channel first so
// every instance of the service delivers them; without redis they go straight
// to the local connection set. Delivery is fire-and-forget: no replay, no
// per-subscriber filtering, and a failed write drops the connection.
type Broadcaster struct {
	mu      sync.RWMutex
	writeMu sync.Mutex
	conns   map[*websocket.Conn]struct{}
	redis   *redis.Client
	channel string
}

func NewBroadcaster(redisClient *redis.Client, channel string) *Broadcaster {
	return &Broadcaster{
		conns:   make(map[*websocket.Conn]struct{}),
		redis:   redisClient,
		channel: channel,
	}
}

// Run forwards redis pub/sub messages to the local connection set until the
// context is done. It is a no-op when redis is not configured.
func (b *Broadcaster) Run(ctx context.Context) {
	if b.redis == nil {
		return
	}
	sub := b.redis.Subscribe(ctx, b.channel)
	go func() {
		defer func() {
			if err := sub.Close(); err != nil {
				log.Printf("events subscription close error: %v", err)
			}
		}()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.deliver([]byte(msg.Payload))
			}
		}
	}()
}

// Publish sends one event to all subscribers. Errors are logged, not
// returned: a broadcast failure must never fail the originating request.
func (b *Broadcaster) Publish(ctx context.Context, eventType string, data any) {
	payload, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	if b.redis != nil {
		if err := b.redis.Publish(ctx, b.channel, payload).Err(); err != nil {
			log.Printf("event publish error: %v", err)
			// Local clients still get the event when redis is down.
			b.deliver(payload)
		}
		return
	}
	b.deliver(payload)
}

func (b *Broadcaster) Add(conn *websocket.Conn) {
	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.mu.Unlock()
}

func (b *Broadcaster) Remove(conn *websocket.Conn) {
	b.mu.Lock()
	delete(b.conns, conn)
	b.mu.Unlock()
	_ = conn.Close()
}

func (b *Broadcaster) deliver(payload []byte) {
	b.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(b.conns))
	for conn := range b.conns {
		conns = append(conns, conn)
	}
	b.mu.RUnlock()

	// Gorilla connections allow one concurrent writer; serialize deliveries.
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			b.Remove(conn)
		}
	}
}

// Subscribers reports the current connection count.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}
