package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Ishu-sri-001/neuro-nest/models"
	"github.com/Ishu-sri-001/neuro-nest/services"
)

// streamEvents relays session events to the client as Server-Sent Events.
// A client disconnect cancels the stream.
func streamEvents(c *gin.Context, session *services.SessionController, events <-chan models.StreamEvent) {
	// Headers go out before the first event so proxies start streaming
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent(string(event.Type), event)
			c.Writer.Flush()
			if event.Terminal() {
				return
			}
		case <-clientGone:
			// Stop the reply and keep the producer from blocking on a full channel
			if session.Cancel() {
				log.Info().Str("component", "API").Str("session_id", session.ID()).Msg("client disconnected, stream cancelled")
			}
			go drain(events)
			return
		}
	}
}

func drain(events <-chan models.StreamEvent) {
	for range events {
	}
}
