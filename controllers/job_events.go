package controller

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"dripline/middleware"
	"dripline/models"
)

const (
	subscriberBuffer = 32
	pingInterval     = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

type subscriber struct {
	companyID uint
	events    chan models.JobEvent
}

// JobEventHub fans job events out to the websocket clients of the company
// they belong to. Slow clients lose events instead of stalling publishers.
type JobEventHub struct {
	mu     sync.RWMutex
	subs   map[uint]map[*subscriber]struct{}
	Logger *logrus.Entry
}

func NewJobEventHub(logger *logrus.Entry) *JobEventHub {
	return &JobEventHub{
		subs:   map[uint]map[*subscriber]struct{}{},
		Logger: logger,
	}
}

func (h *JobEventHub) Publish(event models.JobEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[event.CompanyID] {
		select {
		case sub.events <- event:
		default:
			h.Logger.WithFields(logrus.Fields{
				"company_id": event.CompanyID,
				"type":       event.Type,
			}).Warn("Dropped job event for slow subscriber")
		}
	}
}

func (h *JobEventHub) subscribe(companyID uint) *subscriber {
	sub := &subscriber{companyID: companyID, events: make(chan models.JobEvent, subscriberBuffer)}

	h.mu.Lock()
	if h.subs[companyID] == nil {
		h.subs[companyID] = map[*subscriber]struct{}{}
	}
	h.subs[companyID][sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *JobEventHub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs[sub.companyID], sub)
	if len(h.subs[sub.companyID]) == 0 {
		delete(h.subs, sub.companyID)
	}
	h.mu.Unlock()
}

// Subscribers reports how many clients listen for a company.
func (h *JobEventHub) Subscribers(companyID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[companyID])
}

// RequireUpgrade rejects plain HTTP requests to the events endpoint.
func RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Stream is the websocket handler. It must run behind middleware.Protected
// so the company id is in the connection locals.
func (h *JobEventHub) Stream() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		defer conn.Close()

		companyID, _ := conn.Locals(middleware.LocalCompanyID).(uint)
		if companyID == 0 {
			return
		}

		sub := h.subscribe(companyID)
		defer h.unsubscribe(sub)

		// The read loop only notices the client going away.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(pingInterval)
		defer ping.Stop()

		for {
			select {
			case <-closed:
				return
			case ev := <-sub.events:
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(ev); err != nil {
					h.Logger.WithError(err).Debug("Error writing job event")
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	})
}
