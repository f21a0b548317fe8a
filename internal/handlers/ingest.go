package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lijuuu/ContestBroadcastService/internal/jwt"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"github.com/lijuuu/ContestBroadcastService/internal/service"
	"go.uber.org/zap"
)

const serviceClaimsKey = "serviceClaims"

// ServiceAuth requires a bearer service token on every request.
func ServiceAuth(jm *jwt.JWTManager, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token == "" {
			WriteJSONError(c, "Authentication token required", http.StatusUnauthorized)
			return
		}

		claims, err := jm.ValidateToken(token)
		if err != nil {
			log.Info("rejected service token", zap.String("path", c.Request.URL.Path), zap.Error(err))
			WriteJSONError(c, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		c.Set(serviceClaimsKey, claims)
		c.Next()
	}
}

type IngestHandler struct {
	ingest *service.Ingest
	log    *zap.Logger
}

func NewIngestHandler(ingest *service.Ingest, log *zap.Logger) *IngestHandler {
	return &IngestHandler{ingest: ingest, log: log}
}

func decodeBody(c *gin.Context, v any) bool {
	if err := json.NewDecoder(c.Request.Body).Decode(v); err != nil {
		WriteJSONError(c, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func contestParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("contestId"))
	if err != nil {
		WriteJSONError(c, "Invalid contest ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// PublishEvent handles POST /internal/events
func (h *IngestHandler) PublishEvent(c *gin.Context) {
	var req service.PublishRequest
	if !decodeBody(c, &req) {
		return
	}

	ev, err := h.ingest.Publish(c.Request.Context(), req.Room, req.Name, req.Data)
	if err != nil {
		WriteAppError(c, err)
		return
	}
	WriteJSONResponse(c, service.PublishResponse{Room: ev.Room, Name: ev.Name, Timestamp: ev.Timestamp}, http.StatusAccepted)
}

// PublishCell handles POST /internal/contests/:contestId/leaderboard/cells
func (h *IngestHandler) PublishCell(c *gin.Context) {
	contestID, ok := contestParam(c)
	if !ok {
		return
	}
	var delta model.CellDelta
	if !decodeBody(c, &delta) {
		return
	}

	if err := h.ingest.PublishCell(c.Request.Context(), contestID, delta); err != nil {
		WriteAppError(c, err)
		return
	}
	WriteJSONResponse(c, gin.H{"published": true}, http.StatusAccepted)
}

// SeedLeaderboard handles PUT /internal/contests/:contestId/leaderboard
func (h *IngestHandler) SeedLeaderboard(c *gin.Context) {
	contestID, ok := contestParam(c)
	if !ok {
		return
	}
	var lb model.Leaderboard
	if !decodeBody(c, &lb) {
		return
	}
	lb.ContestID = contestID

	board, err := h.ingest.SeedLeaderboard(c.Request.Context(), lb)
	if err != nil {
		WriteAppError(c, err)
		return
	}
	WriteJSONResponse(c, board, http.StatusOK)
}

// Freeze handles POST /internal/contests/:contestId/leaderboard/freeze
func (h *IngestHandler) Freeze(c *gin.Context) {
	contestID, ok := contestParam(c)
	if !ok {
		return
	}

	changed, err := h.ingest.Freeze(c.Request.Context(), contestID)
	if err != nil {
		WriteAppError(c, err)
		return
	}
	WriteJSONResponse(c, gin.H{"frozen": true, "changed": changed}, http.StatusOK)
}

type unfreezeBody struct {
	Leaderboard       *model.Leaderboard `json:"leaderboard,omitempty"`
	FrozenSubmissions []json.RawMessage  `json:"frozenSubmissions,omitempty"`
}

// Unfreeze handles POST /internal/contests/:contestId/leaderboard/unfreeze.
// The body is optional.
func (h *IngestHandler) Unfreeze(c *gin.Context) {
	contestID, ok := contestParam(c)
	if !ok {
		return
	}

	var body unfreezeBody
	if c.Request.ContentLength != 0 && !decodeBody(c, &body) {
		return
	}

	payload, err := h.ingest.Unfreeze(c.Request.Context(), contestID, body.Leaderboard, body.FrozenSubmissions)
	if err != nil {
		WriteAppError(c, err)
		return
	}
	WriteJSONResponse(c, gin.H{"released": len(payload.FrozenSubmissions)}, http.StatusOK)
}
