package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/docport/docport/pkg/types"
)

const logTokenTTL = 15 * time.Minute

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now; tighten in production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// issueLogToken mints a short-lived instance-scoped token for the log
// WebSocket, so browsers can stream logs without holding the API key.
func (s *Server) issueLogToken(c echo.Context) error {
	if s.tokens == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "log streaming not configured",
		})
	}

	id := c.Param("id")
	if _, err := s.instances.Get(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
	}

	token, expires, err := s.tokens.IssueLogToken(id, logTokenTTL)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, types.LogTokenResponse{
		Token:     token,
		ExpiresAt: expires,
	})
}

// streamLogs upgrades to a WebSocket and streams the instance's combined
// stdout/stderr until the follower exits or the client disconnects.
func (s *Server) streamLogs(c echo.Context) error {
	if s.streamer == nil || s.tokens == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "log streaming not configured",
		})
	}

	id := c.Param("id")
	claims, err := s.tokens.ValidateLogToken(c.QueryParam("token"))
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": err.Error(),
		})
	}
	if claims.InstanceID != id {
		return c.JSON(http.StatusForbidden, map[string]string{
			"error": "token not valid for this instance",
		})
	}

	// The WebSocket upgrade hijacks the connection, so the request context is
	// only cancelled after this handler returns. The follower must be stopped
	// through its own cancel before wait blocks on it, or a client disconnect
	// strands the follower process forever.
	ctx, cancel := context.WithCancel(c.Request().Context())
	reader, wait, err := s.streamer.FollowLogs(ctx, s.instances.ContainerName(id))
	if err != nil {
		cancel()
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
	}
	defer wait()
	defer reader.Close()
	defer cancel()

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	// Reap client closes so a disconnected browser stops the follower.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				reader.Close()
				return
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if writeErr := ws.WriteMessage(websocket.TextMessage, buf[:n]); writeErr != nil {
				return nil
			}
		}
		if err != nil {
			break
		}
	}

	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return nil
}
