package server

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/veriplex/veriplex/internal/notifier"
)

// StreamEvents streams the caller's notifications over SSE: every billable
// call and every balance change, plus recent backlog on connect.
func (s *Server) StreamEvents(c *gin.Context) {
	if s.liveEvents == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	identity, ok := identityFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	subscription, backlog := s.liveEvents.Subscribe(identity.UserID)
	s.streamEvents(c, subscription, backlog)
}

// StreamAdminEvents mirrors every user's events onto one stream for
// back-office dashboards. Guarded by a static token, not an API key.
func (s *Server) StreamAdminEvents(c *gin.Context) {
	if s.liveEvents == nil || s.cfg.AdminStreamToken == "" {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminStreamToken)) != 1 {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	subscription, backlog := s.liveEvents.Subscribe(notifier.AdminStream)
	s.streamEvents(c, subscription, backlog)
}

func (s *Server) streamEvents(c *gin.Context, subscription *notifier.Subscription, backlog []notifier.Event) {
	if subscription == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	defer subscription.Close()

	writer := c.Writer
	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}

	for _, event := range backlog {
		if err := writeLiveEvent(writer, event); err != nil {
			return
		}
	}
	flusher.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-subscription.Events():
			if err := writeLiveEvent(writer, event); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeLiveEvent(w io.Writer, event notifier.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
	return err
}
