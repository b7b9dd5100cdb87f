// Package transport carries GraphQL over HTTP POST and the
// graphql-transport-ws WebSocket subprotocol.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/pgqlgate/pgqlgate/internal/catalog"
	"github.com/pgqlgate/pgqlgate/internal/config"
	"github.com/pgqlgate/pgqlgate/internal/database"
	"github.com/pgqlgate/pgqlgate/internal/gql"
	"github.com/pgqlgate/pgqlgate/internal/observability"
	"github.com/pgqlgate/pgqlgate/internal/resolve"
	"github.com/pgqlgate/pgqlgate/internal/security"
)

// RoleHeader selects the database role an operation executes under
const RoleHeader = "X-Database-Role"

// Request is a GraphQL HTTP request body
type Request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

// Response is a GraphQL HTTP response body
type Response struct {
	Data   interface{} `json:"data,omitempty"`
	Errors []Error     `json:"errors,omitempty"`
}

// Error is one GraphQL error with its classification in extensions
type Error struct {
	Message    string                 `json:"message"`
	Locations  []ErrorLocation        `json:"locations,omitempty"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// ErrorLocation is the source position of an error
type ErrorLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Handler serves GraphQL requests against the generated schema
type Handler struct {
	db        *database.Connection
	catalogs  *catalog.Cache
	generator *gql.Generator
	guard     *security.Guard
	cfg       *config.Config
	metrics   *observability.Metrics
}

// NewHandler creates the GraphQL transport handler
func NewHandler(db *database.Connection, catalogs *catalog.Cache, generator *gql.Generator, guard *security.Guard, cfg *config.Config) *Handler {
	return &Handler{
		db:        db,
		catalogs:  catalogs,
		generator: generator,
		guard:     guard,
		cfg:       cfg,
	}
}

// SetMetrics attaches the metrics recorder
func (h *Handler) SetMetrics(m *observability.Metrics) {
	h.metrics = m
}

// HandleGraphQL handles POST /graphql
func (h *Handler) HandleGraphQL(c *fiber.Ctx) error {
	startTime := time.Now()
	ctx := c.UserContext()
	body := c.Body()

	// Batched requests (a JSON array) are not supported
	if isJSONArray(body) {
		return c.Status(fiber.StatusBadRequest).JSON(Response{
			Errors: []Error{errorFor(database.NewValidationError("batched GraphQL requests are not supported"))},
		})
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(Response{
			Errors: []Error{errorFor(database.NewValidationError("invalid JSON in request body"))},
		})
	}
	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(Response{
			Errors: []Error{errorFor(database.NewValidationError("query string is required"))},
		})
	}

	cat, err := h.catalogs.Get(ctx, h.cfg.Graph.Schema)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load catalog snapshot")
		return c.Status(fiber.StatusInternalServerError).JSON(Response{
			Errors: []Error{{Message: "failed to load schema metadata"}},
		})
	}

	if err := h.guard.Check(cat, req.Query, len(body)); err != nil {
		h.recordRejection(err)
		return c.Status(fiber.StatusBadRequest).JSON(Response{
			Errors: []Error{errorFor(err)},
		})
	}

	role := strings.TrimSpace(c.Get(RoleHeader))
	if role != "" {
		if err := security.ValidateRole(role); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(Response{
				Errors: []Error{errorFor(err)},
			})
		}
	}

	schema, err := h.generator.Schema(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build GraphQL schema")
		return c.Status(fiber.StatusInternalServerError).JSON(Response{
			Errors: []Error{{Message: "failed to build GraphQL schema"}},
		})
	}

	result := h.execute(ctx, schema, req, role)

	duration := time.Since(startTime)
	log.Debug().
		Str("operation", req.OperationName).
		Str("role", role).
		Int("errors", len(result.Errors)).
		Dur("duration", duration).
		Msg("GraphQL request executed")
	if h.metrics != nil {
		h.metrics.RecordGraphQLOperation(operationType(req.Query), duration, len(result.Errors) > 0)
	}

	return c.JSON(Response{
		Data:   result.Data,
		Errors: convertErrors(result.Errors),
	})
}

// execute runs one operation. With a role, the whole operation is pinned to
// a transaction running under SET LOCAL ROLE; without one it uses the pool.
func (h *Handler) execute(ctx context.Context, schema *graphql.Schema, req Request, role string) *graphql.Result {
	params := graphql.Params{
		Schema:         *schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
	}

	if role == "" {
		ectx := resolve.NewExecutionContext("", h.db)
		params.Context = resolve.WithExecutionContext(ctx, ectx)
		return graphql.Do(params)
	}

	var result *graphql.Result
	err := h.db.WithRole(ctx, role, func(tx pgx.Tx) error {
		ectx := resolve.NewExecutionContext(role, tx)
		params.Context = resolve.WithExecutionContext(ctx, ectx)
		result = graphql.Do(params)
		if len(result.Errors) > 0 {
			// Roll back writes when any part of the operation failed
			return database.NewExecutionAborted("operation failed under role %s", role)
		}
		return nil
	})
	if err != nil && result == nil {
		result = &graphql.Result{
			Errors: []gqlerrors.FormattedError{gqlerrors.FormatError(database.ClassifyError(err))},
		}
	}
	return result
}

// HandleInvalidate handles POST /admin/invalidate-schema
func (h *Handler) HandleInvalidate(c *fiber.Ctx) error {
	h.generator.Invalidate()
	log.Info().Msg("Schema invalidated by admin request")
	return c.JSON(fiber.Map{"status": "invalidated"})
}

// HandleHealth handles GET /health
func (h *Handler) HandleHealth(c *fiber.Ctx) error {
	if err := h.db.Health(c.UserContext()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  "database unreachable",
		})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handler) recordRejection(err error) {
	if h.metrics == nil {
		return
	}
	switch {
	case strings.Contains(err.Error(), "depth"):
		h.metrics.RecordRejection("max_depth")
	case strings.Contains(err.Error(), "complexity"):
		h.metrics.RecordRejection("max_complexity")
	case strings.Contains(err.Error(), "request size"):
		h.metrics.RecordRejection("max_request_bytes")
	default:
		h.metrics.RecordRejection("validation")
	}
}

// convertErrors maps executor errors to the wire shape, attaching the error
// kind as extensions.code.
func convertErrors(formatted []gqlerrors.FormattedError) []Error {
	if len(formatted) == 0 {
		return nil
	}

	out := make([]Error, len(formatted))
	for i, fe := range formatted {
		e := Error{Message: fe.Message, Path: fe.Path}
		for _, loc := range fe.Locations {
			e.Locations = append(e.Locations, ErrorLocation{Line: loc.Line, Column: loc.Column})
		}
		if kind, ok := errorKind(fe); ok {
			e.Extensions = map[string]interface{}{"code": kind}
		}
		out[i] = e
	}
	return out
}

// errorFor shapes a classified error for the wire
func errorFor(err error) Error {
	e := Error{Message: err.Error()}
	var dbErr *database.Error
	if errors.As(err, &dbErr) {
		e.Extensions = map[string]interface{}{"code": string(dbErr.Kind)}
	}
	return e
}

func errorKind(fe gqlerrors.FormattedError) (string, bool) {
	var dbErr *database.Error
	if original := fe.OriginalError(); original != nil && errors.As(original, &dbErr) {
		return string(dbErr.Kind), true
	}
	return "", false
}

// operationType sniffs the operation keyword for metrics labels
func operationType(query string) string {
	trimmed := strings.TrimSpace(query)
	switch {
	case strings.HasPrefix(trimmed, "mutation"):
		return "mutation"
	case strings.HasPrefix(trimmed, "subscription"):
		return "subscription"
	default:
		return "query"
	}
}

func isJSONArray(body []byte) bool {
	for _, b := range body {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}
