// Package adminapi exposes a read-only HTTP plane over a running
// pkg/runtime.Runtime: per-node and multi-node view reads, the current
// flow-balance snapshot, and the node roster.
//
// The bearer-verification block is adapted from
// packages/apisix-go-runner/plugins/authz.go's JWT/JWKS check
// (jwt.Parse against a keyfunc.Keyfunc, reject on invalid/expired);
// the gRPC-IAM and Redis-policy-cache portions of that file are not
// reused here (see DESIGN.md's dropped-dependency ledger) since this
// plane only ever answers "is the bearer valid", never an
// authorization decision. Handler registration follows
// apps/iam-service/internal/handler/api_keys_handler.go's
// Register(e *echo.Echo) idiom.
package adminapi

import (
	"net/http"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/arc-self/continuum/pkg/node"
	"github.com/arc-self/continuum/pkg/runtime"
	"github.com/arc-self/continuum/pkg/views"
)

// Handler serves the admin HTTP plane for one Runtime.
type Handler struct {
	rt     *runtime.Runtime
	jwks   keyfunc.Keyfunc
	logger *zap.Logger
}

// NewHandler binds a Handler to rt. jwks may be nil, in which case
// every request is rejected (fail-closed), matching authz.go's
// "JWKS not available -> deny" fallback for a production deployment.
// Register always mounts the bearer check; the handler has no
// unauthenticated mode.
func NewHandler(rt *runtime.Runtime, jwks keyfunc.Keyfunc, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{rt: rt, jwks: jwks, logger: logger}
}

// Register mounts every admin route under e, guarded by bearer auth.
func (h *Handler) Register(e *echo.Echo) {
	g := e.Group("", h.requireBearer, nullToEmptyArray())
	g.GET("/nodes", h.listNodes)
	g.GET("/views/:nodeId", h.getView)
	g.GET("/views", h.collectViews)
	g.GET("/flowbalance", h.flowBalanceSnapshot)
}

// requireBearer verifies the Authorization header's JWT against jwks,
// the same check as authz.go's RequestFilter step 1, generalised from
// net/http to an echo.MiddlewareFunc.
func (h *Handler) requireBearer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing or malformed authorization header"})
		}
		if h.jwks == nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authentication unavailable"})
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		token, err := jwt.Parse(tokenString, h.jwks.KeyfuncCtx(c.Request().Context()))
		if err != nil || !token.Valid {
			h.logger.Warn("adminapi: JWT verification failed", zap.Error(err))
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
		}
		return next(c)
	}
}

func (h *Handler) listNodes(c echo.Context) error {
	return c.JSON(http.StatusOK, h.rt.NodeIDs())
}

func stateSnapshot(n *node.Node) any {
	return n.StateSnapshot()
}

func (h *Handler) getView(c echo.Context) error {
	nodeID := c.Param("nodeId")
	snapshot, ok := views.Get(h.rt.Registry(), nodeID, stateSnapshot)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown node"})
	}
	return c.JSON(http.StatusOK, snapshot)
}

func (h *Handler) collectViews(c echo.Context) error {
	raw := c.QueryParam("nodes")
	if raw == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "nodes query parameter is required"})
	}
	ids := strings.Split(raw, ",")
	snapshots := views.Collect(h.rt.Registry(), ids, stateSnapshot)

	out := make(map[string]any, len(ids))
	for i, id := range ids {
		out[id] = snapshots[i]
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) flowBalanceSnapshot(c echo.Context) error {
	monitor := h.rt.Monitor()
	if monitor == nil {
		return c.JSON(http.StatusOK, []any{})
	}
	return c.JSON(http.StatusOK, monitor.Snapshot())
}
