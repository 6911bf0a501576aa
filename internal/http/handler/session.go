package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/edirooss/hdr-recorder/internal/domain/camera"
	"github.com/edirooss/hdr-recorder/internal/service"
	"github.com/edirooss/hdr-recorder/internal/stats"
	"github.com/edirooss/hdr-recorder/pkg/jsonx"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultNoticeLimit = 50
	maxNoticeLimit     = 500
	maxTelemetryIDs    = 64
)

// Session is the orchestrator surface the handler drives.
type Session interface {
	State() service.UiState
	Stats() stats.Snapshot
	Notices(n int) []service.Notice
	Dispatch(ctx context.Context, ev camera.Event) error
	Reconfigure(ctx context.Context, cfg camera.SessionConfig) error
	SetRotation(degrees int) error
}

// Telemetry serves (cached) telemetry published by any camera.
type Telemetry interface {
	Get(ctx context.Context, ids []string) (service.TelemetryResult, error)
}

// SessionHandler exposes one camera session over HTTP.
//
// Supported operations:
//   - GET  /state      → UiState (config, pending settings, recording, rotation)
//   - GET  /stats      → latest stats snapshot
//   - GET  /notices    → newest-first notices (?limit=N)
//   - POST /events     → dispatch one UI event
//   - PUT  /config     → reconfigure (rebind) with a full SessionConfig
//   - POST /rotation   → push target rotation without rebind
//   - GET  /telemetry  → stored telemetry for ?ids=a,b (Redis)
type SessionHandler struct {
	log       *zap.Logger
	session   Session
	telemetry Telemetry // nil when Redis is disabled
}

func NewSessionHandler(log *zap.Logger, session Session, telemetry Telemetry) *SessionHandler {
	return &SessionHandler{
		log:       log.Named("session"),
		session:   session,
		telemetry: telemetry,
	}
}

// GetState handles GET /state.
func (h *SessionHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.State())
}

// GetStats handles GET /stats.
func (h *SessionHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Stats())
}

// GetNotices handles GET /notices.
//
// Status Codes:
//   - 200 OK          → JSON array, newest first; X-Total-Count set
//   - 400 Bad Request → limit not a positive integer
func (h *SessionHandler) GetNotices(c *gin.Context) {
	limit := defaultNoticeLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"message": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxNoticeLimit)
	}

	notices := h.session.Notices(limit)
	c.Header("X-Total-Count", strconv.Itoa(len(notices)))
	c.JSON(http.StatusOK, notices)
}

// EventRequest is the body of POST /events. enabled is required by the set_*
// kinds and point by tap_to_meter; both are rejected elsewhere.
type EventRequest struct {
	Kind    camera.EventKind                 `json:"kind"`
	Enabled jsonx.Field[bool]                 `json:"enabled"`
	Point   jsonx.Field[camera.MeteringPoint] `json:"point"`
}

func (r EventRequest) event() (camera.Event, error) {
	enabled, hasEnabled := r.Enabled.Get()
	point, hasPoint := r.Point.Get()

	switch r.Kind {
	case camera.KindSetNoiseReduction, camera.KindSetSdrToneMap, camera.KindSetForceDisplaySdr:
		if !hasEnabled {
			return nil, errors.New("enabled is required for " + string(r.Kind))
		}
		if r.Point.IsSet() {
			return nil, errors.New("point is not accepted for " + string(r.Kind))
		}
	case camera.KindTapToMeter:
		if !hasPoint {
			return nil, errors.New("point is required for " + string(r.Kind))
		}
		if r.Enabled.IsSet() {
			return nil, errors.New("enabled is not accepted for " + string(r.Kind))
		}
	default:
		if r.Enabled.IsSet() || r.Point.IsSet() {
			return nil, errors.New(string(r.Kind) + " takes no arguments")
		}
	}
	return camera.NewEvent(r.Kind, enabled, point)
}

// PostEvent handles POST /events.
//
// Behavior:
//   - Events are applied one at a time in arrival order.
//   - Responds with the resulting UiState.
//
// Status Codes:
//   - 200 OK                  → UiState after the event
//   - 400 Bad Request         → invalid JSON, unknown kind, missing argument
//   - 409 Conflict            → rejected while recording, wrong recording state
//   - 503 Service Unavailable → camera not ready
//   - 500 Internal Server Error
func (h *SessionHandler) PostEvent(c *gin.Context) {
	var req EventRequest
	if err := jsonx.ParseStrictJSONBody(c.Request, &req); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	ev, err := req.event()
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	if err := h.session.Dispatch(c.Request.Context(), ev); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.session.State())
}

// PutConfig handles PUT /config (full SessionConfig, explicit rebind).
func (h *SessionHandler) PutConfig(c *gin.Context) {
	var cfg camera.SessionConfig
	if err := jsonx.ParseStrictJSONBody(c.Request, &cfg); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if err := h.session.Reconfigure(c.Request.Context(), cfg); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.session.State())
}

type rotationRequest struct {
	Degrees jsonx.Field[int] `json:"degrees"`
}

// PostRotation handles POST /rotation.
func (h *SessionHandler) PostRotation(c *gin.Context) {
	var req rotationRequest
	if err := jsonx.ParseStrictJSONBody(c.Request, &req); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	deg, ok := req.Degrees.Get()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"message": "degrees is required"})
		return
	}
	if err := h.session.SetRotation(deg); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetTelemetry handles GET /telemetry?ids=cam0,cam1.
//
// Status Codes:
//   - 200 OK                  → map of camera ID to {stats, status}; cameras with nothing stored are omitted;
//     X-Cache (HIT|MISS) and X-Summary-Generated-At set
//   - 400 Bad Request         → ids missing or too many
//   - 503 Service Unavailable → telemetry store disabled
//   - 500 Internal Server Error
func (h *SessionHandler) GetTelemetry(c *gin.Context) {
	if h.telemetry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "telemetry store disabled"})
		return
	}

	var ids []string
	for _, id := range strings.Split(c.Query("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 || len(ids) > maxTelemetryIDs {
		c.JSON(http.StatusBadRequest, gin.H{"message": "ids must list 1.." + strconv.Itoa(maxTelemetryIDs) + " camera IDs"})
		return
	}

	res, err := h.telemetry.Get(c.Request.Context(), ids)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	if res.CacheHit {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}
	c.Header("X-Summary-Generated-At", res.GeneratedAt.UTC().Format(time.RFC3339Nano))
	c.Header("X-Total-Count", strconv.Itoa(len(res.Data)))
	c.JSON(http.StatusOK, res.Data)
}

func (h *SessionHandler) fail(c *gin.Context, err error) {
	c.Error(err)
	c.JSON(statusFor(err), gin.H{"message": err.Error()})
}

// statusFor maps the camera error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, camera.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, camera.ErrRecordingActive),
		errors.Is(err, camera.ErrInvalidTransition),
		errors.Is(err, service.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, camera.ErrNotReady),
		errors.Is(err, camera.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, camera.ErrBindFailure),
		errors.Is(err, camera.ErrCommitFailure),
		errors.Is(err, camera.ErrRecordingFinalize):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
