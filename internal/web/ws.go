package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/streamwatch/internal/alert"
	"github.com/MrWong99/streamwatch/internal/app"
)

// writeTimeout bounds a single outbound websocket write.
const writeTimeout = 5 * time.Second

// command is one inbound control message.
type command struct {
	Type     string   `json:"type"`
	Source   string   `json:"source,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// statusEvent reports the run state after a control command or a state change.
type statusEvent struct {
	Type   string `json:"type"`
	State  string `json:"state"`
	Source string `json:"source,omitempty"`
}

// transcriptEvent pushes one recognition result to the client.
type transcriptEvent struct {
	Type     string  `json:"type"`
	Text     string  `json:"text"`
	IsFinal  bool    `json:"is_final"`
	StartSec float64 `json:"start_sec"`
}

// alertEvent pushes one keyword alert to the client.
type alertEvent struct {
	Type      string  `json:"type"`
	Keyword   string  `json:"keyword"`
	Match     string  `json:"match"`
	Score     float64 `json:"score"`
	Timestamp string  `json:"timestamp"`
	Context   string  `json:"context"`
}

// errorEvent reports a rejected command or a failed run.
type errorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// wsClient serializes writes to one websocket connection; transcript pushes,
// alert pushes and command replies come from different goroutines.
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) send(ctx context.Context, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, c.conn, v); err != nil {
		slog.Debug("websocket write failed", "err", err)
	}
}

// wsAlertNotifier pushes alerts over the control connection.
type wsAlertNotifier struct {
	client *wsClient
}

func (n *wsAlertNotifier) Name() string { return "websocket" }

func (n *wsAlertNotifier) Notify(ctx context.Context, a alert.Alert) error {
	n.client.send(ctx, alertEvent{
		Type:      "alert",
		Keyword:   a.Keyword,
		Match:     string(a.Match),
		Score:     a.Score,
		Timestamp: alert.FormatTimestamp(a.Timestamp),
		Context:   a.Context,
	})
	return nil
}

// handleWS runs the control socket for one client. Each connection owns at
// most one pipeline run; closing the socket cancels the run.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	client := &wsClient{conn: conn}
	mgr := s.newManager(
		func(ev transcriptEvent) { client.send(ctx, ev) },
		&wsAlertNotifier{client: client},
	)

	slog.Info("control client connected", "remote", r.RemoteAddr)
	client.send(ctx, statusEvent{Type: "status", State: string(mgr.State())})

	for {
		var cmd command
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			break
		}
		s.handleCommand(ctx, client, mgr, cmd)
	}

	if mgr.IsActive() {
		if err := mgr.Stop(); err != nil {
			slog.Warn("stopping run after client disconnect", "err", err)
		}
	}
	slog.Info("control client disconnected", "remote", r.RemoteAddr)
	conn.Close(websocket.StatusNormalClosure, "")
}

// handleCommand executes one control command and replies with a status or
// error event.
func (s *Server) handleCommand(ctx context.Context, client *wsClient, mgr *app.Manager, cmd command) {
	switch cmd.Type {
	case "start":
		if cmd.Source == "" {
			client.send(ctx, errorEvent{Type: "error", Error: "start requires a source"})
			return
		}
		if err := mgr.Start(ctx, cmd.Source); err != nil {
			client.send(ctx, errorEvent{Type: "error", Error: err.Error()})
			return
		}
		if len(cmd.Keywords) > 0 {
			if err := mgr.SetKeywords(cmd.Keywords); err != nil {
				slog.Warn("set keywords at start", "err", err)
			}
		}
		client.send(ctx, statusEvent{Type: "status", State: string(mgr.State()), Source: cmd.Source})

		// Report the terminal state once the run ends on its own.
		done := mgr.Done()
		go func() {
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
			if err := mgr.Err(); err != nil && !errors.Is(err, context.Canceled) {
				client.send(ctx, errorEvent{Type: "error", Error: err.Error()})
			}
			client.send(ctx, statusEvent{Type: "status", State: string(mgr.State())})
		}()

	case "pause":
		s.reply(ctx, client, mgr, mgr.Pause())

	case "resume":
		s.reply(ctx, client, mgr, mgr.Resume())

	case "stop":
		s.reply(ctx, client, mgr, mgr.Stop())

	case "keywords":
		s.reply(ctx, client, mgr, mgr.SetKeywords(cmd.Keywords))

	default:
		client.send(ctx, errorEvent{Type: "error", Error: "unknown command type: " + cmd.Type})
	}
}

func (s *Server) reply(ctx context.Context, client *wsClient, mgr *app.Manager, err error) {
	if err != nil {
		client.send(ctx, errorEvent{Type: "error", Error: err.Error()})
		return
	}
	client.send(ctx, statusEvent{Type: "status", State: string(mgr.State())})
}
