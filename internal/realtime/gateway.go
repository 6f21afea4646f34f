package realtime

import (
	"context"
	"net"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/pbn-studio/engine/pkg/logger"
	"go.uber.org/zap"
)

const (
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// TokenVerifier resolves a bearer token to the id of the user it was issued to.
type TokenVerifier func(token string) (uuid.UUID, error)

// Gateway serves the push channel at /ws?token=<jwt>.
type Gateway struct {
	app    *fiber.App
	hub    *Hub
	verify TokenVerifier
	ping   time.Duration
}

func NewGateway(hub *Hub, verify TokenVerifier) *Gateway {
	g := &Gateway{
		app: fiber.New(fiber.Config{
			AppName:               "pbn-realtime",
			DisableStartupMessage: true,
		}),
		hub:    hub,
		verify: verify,
		ping:   pingInterval,
	}
	g.routes()
	return g
}

func (g *Gateway) routes() {
	g.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "subscribers": g.hub.Count()})
	})

	g.app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		uid, err := g.verify(c.Query("token"))
		if err != nil {
			return fiber.ErrUnauthorized
		}
		c.Locals("user_id", uid.String())
		return c.Next()
	})
	g.app.Get("/ws", websocket.New(g.serve))
}

func (g *Gateway) serve(conn *websocket.Conn) {
	uid, _ := conn.Locals("user_id").(string)
	log := logger.L().With(zap.String("user_id", uid), zap.String("remote", conn.RemoteAddr().String()))
	log.Debug("realtime client connected")

	sub := g.hub.Subscribe()
	defer sub.Close()

	// the reader only exists to notice the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(g.ping)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Debug("realtime client disconnected")
			return
		case ev, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("realtime write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Serve accepts connections on ln until Shutdown.
func (g *Gateway) Serve(ln net.Listener) error {
	return g.app.Listener(ln)
}

func (g *Gateway) Listen(addr string) error {
	return g.app.Listen(addr)
}

func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.app.ShutdownWithContext(ctx)
}
