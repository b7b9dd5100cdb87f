package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"
	"github.com/rs/zerolog/log"

	"github.com/pgqlgate/pgqlgate/internal/database"
	"github.com/pgqlgate/pgqlgate/internal/resolve"
	"github.com/pgqlgate/pgqlgate/internal/security"
)

// graphql-transport-ws message types
const (
	wsConnectionInit = "connection_init"
	wsConnectionAck  = "connection_ack"
	wsPing           = "ping"
	wsPong           = "pong"
	wsSubscribe      = "subscribe"
	wsNext           = "next"
	wsError          = "error"
	wsComplete       = "complete"
)

const connectionInitTimeout = 10 * time.Second

// wsMessage is one graphql-transport-ws frame
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsClient tracks one WebSocket connection and its active operations
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	streams map[string]context.CancelFunc
}

func (c *wsClient) send(msg interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *wsClient) register(id string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A reused id cancels the previous operation
	if prev, ok := c.streams[id]; ok {
		prev()
	}
	c.streams[id] = cancel
}

func (c *wsClient) unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.streams[id]; ok {
		cancel()
		delete(c.streams, id)
	}
}

func (c *wsClient) cancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cancel := range c.streams {
		cancel()
	}
	c.streams = make(map[string]context.CancelFunc)
}

// HandleWebSocket upgrades to the graphql-transport-ws subprotocol
func (h *Handler) HandleWebSocket(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	role := c.Get(RoleHeader)
	if role != "" {
		if err := security.ValidateRole(role); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}
	c.Locals("role", role)

	return websocket.New(h.serveWS, websocket.Config{
		Subprotocols: []string{"graphql-transport-ws"},
	})(c)
}

func (h *Handler) serveWS(conn *websocket.Conn) {
	client := &wsClient{
		conn:    conn,
		streams: make(map[string]context.CancelFunc),
	}
	defer client.cancelAll()

	role, _ := conn.Locals("role").(string)

	// The client must initialize the connection before anything else
	_ = conn.SetReadDeadline(time.Now().Add(connectionInitTimeout))
	var init wsMessage
	if err := conn.ReadJSON(&init); err != nil || init.Type != wsConnectionInit {
		log.Debug().Msg("WebSocket closed before connection_init")
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	if err := client.send(wsMessage{Type: wsConnectionAck}); err != nil {
		return
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			log.Debug().Err(err).Msg("WebSocket connection closed")
			return
		}

		switch msg.Type {
		case wsPing:
			_ = client.send(wsMessage{Type: wsPong})

		case wsSubscribe:
			h.startSubscription(client, msg, role)

		case wsComplete:
			client.unregister(msg.ID)
		}
	}
}

// startSubscription validates the operation and streams its results
func (h *Handler) startSubscription(client *wsClient, msg wsMessage, role string) {
	var req Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil || req.Query == "" {
		_ = client.send(wsMessage{
			ID:   msg.ID,
			Type: wsError,
			Payload: mustJSON([]Error{errorFor(
				database.NewValidationError("subscribe payload must carry a query"))}),
		})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client.register(msg.ID, cancel)

	go func() {
		defer client.unregister(msg.ID)

		cat, err := h.catalogs.Get(ctx, h.cfg.Graph.Schema)
		if err != nil {
			_ = client.send(wsMessage{ID: msg.ID, Type: wsError,
				Payload: mustJSON([]Error{{Message: "failed to load schema metadata"}})})
			return
		}
		if err := h.guard.Check(cat, req.Query, len(msg.Payload)); err != nil {
			h.recordRejection(err)
			_ = client.send(wsMessage{ID: msg.ID, Type: wsError,
				Payload: mustJSON([]Error{errorFor(err)})})
			return
		}

		schema, err := h.generator.Schema(ctx)
		if err != nil {
			_ = client.send(wsMessage{ID: msg.ID, Type: wsError,
				Payload: mustJSON([]Error{{Message: "failed to build GraphQL schema"}})})
			return
		}

		ectx := resolve.NewExecutionContext(role, h.db)
		results := graphql.Subscribe(graphql.Params{
			Schema:         *schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        resolve.WithExecutionContext(ctx, ectx),
		})

		for {
			select {
			case <-ctx.Done():
				return
			case result, ok := <-results:
				if !ok {
					_ = client.send(wsMessage{ID: msg.ID, Type: wsComplete})
					return
				}
				if err := client.send(wsMessage{
					ID:   msg.ID,
					Type: wsNext,
					Payload: mustJSON(Response{
						Data:   result.Data,
						Errors: convertErrors(result.Errors),
					}),
				}); err != nil {
					return
				}
			}
		}
	}()
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
