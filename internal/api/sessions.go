package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kalambet/eclipse/internal/metrics"
	"github.com/kalambet/eclipse/internal/upload"
	"github.com/kalambet/eclipse/internal/workflow"
)

const (
	wsWriteWait = 10 * time.Second
	maxWaitTime = 30 * time.Second
)

// SessionResponse pairs a session id with its current state.
type SessionResponse struct {
	ID    string            `json:"id"`
	State workflow.Snapshot `json:"state"`
}

// wsMessage is the envelope for messages in both directions.
type wsMessage struct {
	Type    string `json:"type"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func sessionFor(w http.ResponseWriter, r *http.Request, deps Deps) (string, *workflow.Controller, bool) {
	id := chi.URLParam(r, "id")
	c, ok := deps.Sessions.Get(id)
	if !ok {
		httpError(w, http.StatusNotFound, "not_found", "session %s not found", id)
		return "", nil, false
	}
	return id, c, true
}

// workflowError maps controller errors onto HTTP statuses.
func workflowError(w http.ResponseWriter, err error) {
	var ve *upload.ValidationError
	switch {
	case errors.As(err, &ve):
		httpError(w, http.StatusBadRequest, "validation_error", "%s", ve.Message)
	case errors.Is(err, workflow.ErrScanInProgress):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	case errors.Is(err, workflow.ErrInvalidTransition):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	case errors.Is(err, workflow.ErrNoPreview):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, workflow.ErrNoFile), errors.Is(err, workflow.ErrNoResult):
		httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "%v", err)
	case errors.Is(err, workflow.ErrSessionClosed):
		httpError(w, http.StatusGone, "not_found", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func handleCreateSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, c := deps.Sessions.Create()
		deps.Logger.Debug("session created", "session_id", id)
		writeJSON(w, http.StatusCreated, SessionResponse{ID: id, State: c.Snapshot()})
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, c, ok := sessionFor(w, r, deps)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, SessionResponse{ID: id, State: c.Snapshot()})
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !deps.Sessions.Delete(id) {
			httpError(w, http.StatusNotFound, "not_found", "session %s not found", id)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSessionFile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, c, ok := sessionFor(w, r, deps)
		if !ok {
			return
		}

		form, err := readImageForm(w, r, deps.Validator)
		var ve *upload.ValidationError
		switch {
		case errors.As(err, &ve):
			metrics.ValidationFailuresTotal.WithLabelValues(ve.Rule).Inc()
			workflowError(w, err)
			return
		case errors.Is(err, upload.ErrNoFile):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "image is required")
			return
		case err != nil:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		f := form.File

		switch mode := form.Value("mode"); mode {
		case "", "select":
			err = c.SelectFile(f)
		case "drop":
			err = c.Drop(f)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown mode %q", mode)
			return
		}
		if err != nil {
			workflowError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, SessionResponse{ID: id, State: c.Snapshot()})
	}
}

// PreviewResponse carries the rendered preview left out of session state.
type PreviewResponse struct {
	Preview string `json:"preview"`
	Version uint64 `json:"version"`
}

func handleSessionPreview(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, c, ok := sessionFor(w, r, deps)
		if !ok {
			return
		}
		uri, version, err := c.Preview()
		if err != nil {
			workflowError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, PreviewResponse{Preview: uri, Version: version})
	}
}

// handleSessionScan starts a scan or retry. With ?wait=true the response is
// held until the scan completes or fails.
func handleSessionScan(deps Deps, start func(*workflow.Controller) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, c, ok := sessionFor(w, r, deps)
		if !ok {
			return
		}
		if err := start(c); err != nil {
			workflowError(w, err)
			return
		}

		wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
		if !wait {
			writeJSON(w, http.StatusAccepted, SessionResponse{ID: id, State: c.Snapshot()})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), maxWaitTime)
		defer cancel()
		snap, err := c.WaitFor(ctx, func(s workflow.Snapshot) bool {
			return s.State == workflow.StateComplete || s.State == workflow.StateError
		})
		if err != nil {
			workflowError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SessionResponse{ID: id, State: snap})
	}
}

func handleSessionSave(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, c, ok := sessionFor(w, r, deps)
		if !ok {
			return
		}
		entry, err := c.Save(r.Context())
		if err != nil {
			workflowError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": entry})
	}
}

func handleSessionAction(deps Deps, action func(*workflow.Controller) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, c, ok := sessionFor(w, r, deps)
		if !ok {
			return
		}
		if err := action(c); err != nil {
			workflowError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SessionResponse{ID: id, State: c.Snapshot()})
	}
}

func handleSessionReport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, c, ok := sessionFor(w, r, deps)
		if !ok {
			return
		}
		text, err := c.Report()
		if err != nil {
			workflowError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(text))
	}
}

func handleSessionExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, c, ok := sessionFor(w, r, deps)
		if !ok {
			return
		}
		name, data, err := c.Export()
		if err != nil {
			workflowError(w, err)
			return
		}
		writeAttachment(w, name, data)
	}
}

func newUpgrader(allowed []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 || slices.Contains(allowed, "*") {
				return true
			}
			return slices.Contains(allowed, origin)
		},
	}
}

// handleSessionWS streams snapshots as {type:"state"} messages and accepts
// drag_enter, drag_leave, scan, retry, clear and dismiss commands.
func handleSessionWS(deps Deps) http.HandlerFunc {
	upgrader := newUpgrader(deps.AllowedOrigins)
	return func(w http.ResponseWriter, r *http.Request) {
		id, c, ok := sessionFor(w, r, deps)
		if !ok {
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			deps.Logger.Warn("websocket upgrade failed", "session_id", id, "error", err)
			return
		}
		defer conn.Close()

		snaps, unsubscribe := c.Subscribe()
		defer unsubscribe()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		replies := make(chan wsMessage, 4)

		go func() {
			defer cancel()
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var msg wsMessage
				if err := json.Unmarshal(raw, &msg); err != nil {
					enqueue(replies, wsMessage{Type: "error", Message: "Invalid message format"})
					continue
				}
				if err := dispatchWS(c, msg.Type); err != nil {
					enqueue(replies, wsMessage{Type: "error", Message: err.Error()})
				}
			}
		}()

		for {
			var out wsMessage
			select {
			case <-ctx.Done():
				return
			case s, ok := <-snaps:
				if !ok {
					conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
					return
				}
				out = wsMessage{Type: "state", Data: s}
			case m := <-replies:
				out = m
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(out); err != nil {
				deps.Logger.Debug("websocket write failed", "session_id", id, "error", err)
				return
			}
		}
	}
}

func dispatchWS(c *workflow.Controller, typ string) error {
	switch typ {
	case "drag_enter":
		c.DragEnter()
		return nil
	case "drag_leave":
		c.DragLeave()
		return nil
	case "scan":
		return c.TriggerScan()
	case "retry":
		return c.Retry()
	case "clear":
		return c.Clear()
	case "dismiss":
		return c.DismissError()
	default:
		return fmt.Errorf("unknown message type %q", typ)
	}
}

func enqueue(ch chan<- wsMessage, m wsMessage) {
	select {
	case ch <- m:
	default:
	}
}
