package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"devattend/internal/attendance"
	"devattend/internal/devices"
	"devattend/internal/metrics"
)

// AttendanceService is what the handlers need from attendance.Service.
type AttendanceService interface {
	Record(ctx context.Context, in attendance.NewRecord) (attendance.Record, error)
	List(ctx context.Context, p attendance.FilterParams) ([]attendance.Record, error)
	DailyCounts(ctx context.Context, rawDays string) ([]attendance.DayPoint, error)
}

type handler struct {
	svc     AttendanceService
	devices devices.Registry
	checks  map[string]func(context.Context) error
	log     *zap.Logger
	metrics *metrics.Metrics
}

type createRequest struct {
	DeviceID   string   `json:"deviceId" binding:"required"`
	DeviceName string   `json:"deviceName"`
	Timestamp  any      `json:"timestamp" binding:"required"`
	Battery    *float64 `json:"battery"`
}

// createRecord handles POST /api/attendance.
func (h *handler) createRecord(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if details, ok := validationDetails(err); ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "deviceId and timestamp required", "details": details})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	ts, ok := attendance.ParseWireTimestamp(req.Timestamp)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "timestamp must be an ISO-8601 date or epoch milliseconds",
			"details": gin.H{"timestamp": "unparseable"},
		})
		return
	}

	rec, err := h.svc.Record(c.Request.Context(), attendance.NewRecord{
		DeviceID:   req.DeviceID,
		DeviceName: req.DeviceName,
		Timestamp:  ts,
		Battery:    req.Battery,
	})
	if err != nil {
		if errors.Is(err, attendance.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.storeFailure(c, "insert", err)
		return
	}

	h.metrics.RecordsCreated.Inc()
	c.JSON(http.StatusCreated, rec)
}

// listRecords handles GET /api/attendance.
func (h *handler) listRecords(c *gin.Context) {
	recs, err := h.svc.List(c.Request.Context(), attendance.FilterParams{
		DeviceID: c.Query("deviceId"),
		From:     c.Query("from"),
		To:       c.Query("to"),
		Limit:    c.Query("limit"),
	})
	if err != nil {
		h.storeFailure(c, "find", err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

// dailyStats handles GET /api/attendance/stats.
func (h *handler) dailyStats(c *gin.Context) {
	points, err := h.svc.DailyCounts(c.Request.Context(), c.Query("days"))
	if err != nil {
		h.storeFailure(c, "count_by_day", err)
		return
	}
	c.JSON(http.StatusOK, points)
}

// listDevices handles GET /api/devices.
func (h *handler) listDevices(c *gin.Context) {
	list, err := h.devices.List(c.Request.Context())
	if err != nil {
		h.log.Error("device registry failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, list)
}

// health handles GET /api/health. It never touches dependencies.
func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
}

// ready handles GET /healthz by running every dependency check.
func (h *handler) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{}
	for name, check := range h.checks {
		healthy := check(ctx) == nil
		body[name] = healthy
		if !healthy {
			status = http.StatusServiceUnavailable
		}
	}
	body["status"] = "ok"
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

// storeFailure logs the cause and hides it from the caller.
func (h *handler) storeFailure(c *gin.Context, op string, err error) {
	h.log.Error("record store failed", zap.String("op", op), zap.Error(err))
	h.metrics.StoreErrors.WithLabelValues(op).Inc()
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
