package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/nestlinghq/nestling/backend/internal/activity"
	"github.com/nestlinghq/nestling/backend/internal/family"
	"github.com/nestlinghq/nestling/backend/internal/realtime"
	"go.uber.org/zap"
)

const defaultSnapshotLimit = 100

var (
	errMissingFamilyService   = errors.New("family service dependency required")
	errMissingActivityService = errors.New("activity service dependency required")
	errMissingRegistry        = errors.New("realtime registry dependency required")
	errMissingPublisher       = errors.New("realtime publisher dependency required")
)

type Dependencies struct {
	Families   *family.Service
	Activities *activity.Service
	Registry   *realtime.Registry
	Publisher  *realtime.Publisher
	// SnapshotLimit bounds the initial sync payload; deeper history goes
	// through the CRUD read path. Defaults to 100.
	SnapshotLimit int
	Logger        *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Families == nil {
		return nil, errMissingFamilyService
	}
	if deps.Activities == nil {
		return nil, errMissingActivityService
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}
	if deps.Publisher == nil {
		return nil, errMissingPublisher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	snapshotLimit := deps.SnapshotLimit
	if snapshotLimit <= 0 {
		snapshotLimit = defaultSnapshotLimit
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		families:      deps.Families,
		activities:    deps.Activities,
		registry:      deps.Registry,
		publisher:     deps.Publisher,
		snapshotLimit: snapshotLimit,
		logger:        logger,
	}

	api := router.Group("/api")
	api.POST("/family", handler.handleCreateFamily)
	api.POST("/family/join", handler.handleJoinFamily)
	api.GET("/families/:familyId/activities", handler.handleListActivities)
	api.POST("/families/:familyId/activities", handler.handleCreateActivity)
	api.PUT("/activities/:activityId", handler.handleUpdateActivity)
	api.DELETE("/activities/:activityId", handler.handleDeleteActivity)
	api.GET("/health", handler.handleHealth)

	router.GET("/ws", handler.handleRealtime)

	return router, nil
}

type httpHandler struct {
	families      *family.Service
	activities    *activity.Service
	registry      *realtime.Registry
	publisher     *realtime.Publisher
	snapshotLimit int
	logger        *zap.Logger
}

type createFamilyPayload struct {
	BabyName string `json:"babyName"`
}

func (h *httpHandler) handleCreateFamily(c *gin.Context) {
	var request createFamilyPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.families.CreateFamily(c.Request.Context(), request.BabyName)
	if err != nil {
		h.writeServiceError(c, "failed to create family", err)
		return
	}
	c.JSON(http.StatusOK, record)
}

type joinFamilyPayload struct {
	Code string `json:"code"`
}

func (h *httpHandler) handleJoinFamily(c *gin.Context) {
	var request joinFamilyPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.families.GetByCode(c.Request.Context(), request.Code)
	if errors.Is(err, family.ErrFamilyNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "family_not_found"})
		return
	}
	if err != nil {
		h.writeServiceError(c, "failed to resolve join code", err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *httpHandler) handleListActivities(c *gin.Context) {
	familyID := c.Param("familyId")

	var records []activity.Record
	var err error
	if c.Query("today") == "true" {
		records, err = h.activities.ListToday(c.Request.Context(), familyID, time.Now())
	} else {
		records, err = h.activities.List(c.Request.Context(), familyID, 0)
	}
	if err != nil {
		h.writeServiceError(c, "failed to list activities", err)
		return
	}
	c.JSON(http.StatusOK, records)
}

type createActivityPayload struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	StartedAt int64           `json:"startedAt"`
	EndedAt   *int64          `json:"endedAt"`
	CreatedBy string          `json:"createdBy"`
}

func (h *httpHandler) handleCreateActivity(c *gin.Context) {
	familyID := c.Param("familyId")

	var request createActivityPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	activityType, err := activity.ParseType(request.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_type"})
		return
	}

	record, err := h.activities.Create(c.Request.Context(), activity.CreateRequest{
		FamilyID:  familyID,
		Type:      activityType,
		Data:      request.Data,
		StartedAt: request.StartedAt,
		EndedAt:   request.EndedAt,
		CreatedBy: request.CreatedBy,
	})
	if err != nil {
		h.writeServiceError(c, "failed to create activity", err)
		return
	}

	// The write is durable at this point; now notify other live devices.
	h.publisher.PublishActivity(c.Request.Context(), familyID, realtime.ActionCreate, record, record.CreatedBy)
	c.JSON(http.StatusCreated, record)
}

type updateActivityPayload struct {
	Data    json.RawMessage `json:"data"`
	EndedAt *int64          `json:"ended_at"`
	// UpdatedBy lets the originating device suppress its own echo.
	UpdatedBy string `json:"updatedBy"`
}

func (h *httpHandler) handleUpdateActivity(c *gin.Context) {
	activityID := c.Param("activityId")

	var request updateActivityPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.activities.Update(c.Request.Context(), activityID, activity.UpdateRequest{
		Data:    request.Data,
		EndedAt: request.EndedAt,
	})
	if errors.Is(err, activity.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "activity_not_found"})
		return
	}
	if err != nil {
		h.writeServiceError(c, "failed to update activity", err)
		return
	}

	h.publisher.PublishActivity(c.Request.Context(), record.FamilyID, realtime.ActionUpdate, record, request.UpdatedBy)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleDeleteActivity(c *gin.Context) {
	activityID := c.Param("activityId")

	record, err := h.activities.Delete(c.Request.Context(), activityID)
	if errors.Is(err, activity.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "activity_not_found"})
		return
	}
	if err != nil {
		h.writeServiceError(c, "failed to delete activity", err)
		return
	}

	h.publisher.PublishActivity(c.Request.Context(), record.FamilyID, realtime.ActionDelete, record, c.Query("deviceId"))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
	})
}

func (h *httpHandler) writeServiceError(c *gin.Context, message string, err error) {
	h.logger.Error(message, zap.Error(err))

	payload := gin.H{"error": "internal_error"}
	var familyErr *family.ServiceError
	var activityErr *activity.ServiceError
	switch {
	case errors.As(err, &familyErr):
		payload["code"] = familyErr.Code()
	case errors.As(err, &activityErr):
		payload["code"] = activityErr.Code()
	}
	c.JSON(http.StatusInternalServerError, payload)
}
