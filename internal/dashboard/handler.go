package dashboard

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sqlwatch/sqlwatch/internal/change"
	"github.com/sqlwatch/sqlwatch/internal/graph"
)

// StatsData summarizes the watched project and the changes handled so far.
type StatsData struct {
	Entities   int                    `json:"entities"`
	Cycles     int                    `json:"cycles"`
	Changes    int                    `json:"changes"`
	ByOutcome  map[change.Outcome]int `json:"by_outcome"`
	LastChange *time.Time             `json:"last_change,omitempty"`
}

// Handler turns change reports into dashboard messages.
type Handler struct {
	server *Server
	graph  GraphView
	logger logrus.FieldLogger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates a handler broadcasting through server. The graph is
// consulted for entity and cycle counts and may be nil.
func NewHandler(server *Server, g GraphView, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &Handler{
		server: server,
		graph:  g,
		logger: logger,
		stats: StatsData{
			ByOutcome: make(map[change.Outcome]int),
		},
	}
	server.SetWelcome(h.statsMessage)
	return h
}

// OnReport is a change.Observer.
func (h *Handler) OnReport(r *change.Report) {
	if r == nil {
		return
	}

	h.mu.Lock()
	h.stats.Changes++
	h.stats.ByOutcome[r.Outcome]++
	finished := r.Started.Add(r.Duration)
	h.stats.LastChange = &finished
	h.mu.Unlock()

	data, err := json.Marshal(r)
	if err != nil {
		h.logger.WithError(err).Error("failed to marshal change report")
		return
	}
	h.server.Broadcast(Message{
		Type:      MessageTypeChange,
		Timestamp: time.Now(),
		Data:      data,
	})

	h.server.Broadcast(h.statsMessage())
}

// Stats returns a snapshot of the current statistics.
func (h *Handler) Stats() StatsData {
	if h.graph != nil {
		h.graph.View(func(g *graph.Graph) {
			h.mu.Lock()
			h.stats.Entities = g.Len()
			h.stats.Cycles = len(g.Cycles())
			h.mu.Unlock()
		})
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.stats
	out.ByOutcome = make(map[change.Outcome]int, len(h.stats.ByOutcome))
	for k, v := range h.stats.ByOutcome {
		out.ByOutcome[k] = v
	}
	return out
}

func (h *Handler) statsMessage() Message {
	msg := Message{Type: MessageTypeStats, Timestamp: time.Now()}
	data, err := json.Marshal(h.Stats())
	if err != nil {
		h.logger.WithError(err).Error("failed to marshal stats")
		return msg
	}
	msg.Data = data
	return msg
}
