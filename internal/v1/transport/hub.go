package transport

import (
	"net/http"

	"github.com/git-yup-ai/sim/internal/v1/auth"
	"github.com/git-yup-ai/sim/internal/v1/logging"
	"github.com/git-yup-ai/sim/internal/v1/metrics"
	"github.com/git-yup-ai/sim/internal/v1/ratelimit"
	"github.com/git-yup-ai/sim/internal/v1/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gin-gonic/gin"
)

// Hub accepts WebSocket handshakes, authenticates them, and hands the
// resulting connections to the broker. Room membership lives in the broker's
// registry; the hub only owns the handshake path and the per-connection pumps.
type Hub struct {
	validator   types.TokenValidator   // JWT authentication service
	router      types.SocketRouter     // Broker that owns rooms and dispatch
	rateLimiter *ratelimit.RateLimiter // Handshake throttling (IP + user)
	devMode     bool                   // Relaxes origin checks in development
}

// NewHub creates a new Hub and configures it with its dependencies.
func NewHub(validator types.TokenValidator, router types.SocketRouter, rateLimiter *ratelimit.RateLimiter, devMode bool) *Hub {
	return &Hub{
		validator:   validator,
		router:      router,
		rateLimiter: rateLimiter,
		devMode:     devMode,
	}
}

// ServeWs authenticates the user and upgrades to a WebSocket connection.
func (h *Hub) ServeWs(c *gin.Context) {
	// 0. Rate limiting check (IP based) before anything else to save resources
	if h.rateLimiter != nil && !h.rateLimiter.CheckWebSocket(c) {
		return // Response already written by CheckWebSocket
	}

	// 1-3. Validation (pure logic + Gin bridge)
	tokenResult, err := h.extractToken(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return
	}

	claims, err := h.authenticateUser(tokenResult.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	if h.rateLimiter != nil {
		if err := h.rateLimiter.CheckWebSocketUser(c.Request.Context(), claims.Subject); err != nil {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections for this user"})
			return
		}
	}

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	if err := validateOrigin(c.Request, allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	// 4-5. Upgrade to WebSocket (isolated I/O glue)
	conn, err := h.upgradeWebSocket(c, allowedOrigins, tokenResult)
	if err != nil {
		return
	}

	// 6-8. Setup and start (orchestration logic)
	h.HandleConnection(conn, claims)
}

// HandleConnection takes an established WebSocket connection, assigns it a
// socket id and starts the message pumps. Split from ServeWs so tests can
// drive a fake connection without a real upgrade.
func (h *Hub) HandleConnection(conn wsConnection, claims *auth.CustomClaims) *Client {
	client := h.newClient(conn, claims)

	metrics.IncConnection()
	logging.GetLogger().Debug("Client connected",
		zap.String("socketId", string(client.socketID)),
		zap.String("userId", string(client.user.UserID)))

	go client.writePump()
	go client.readPump()

	return client
}

// newClient builds a Client from validated claims. The socket id is a fresh
// uuid per connection so reconnects of the same user never collide.
func (h *Hub) newClient(conn wsConnection, claims *auth.CustomClaims) *Client {
	return &Client{
		conn:         conn,
		router:       h.router,
		socketID:     types.SocketIDType(uuid.NewString()),
		user:         sessionFromClaims(claims),
		send:         make(chan []byte, 256),
		prioritySend: make(chan []byte, 64),
	}
}
