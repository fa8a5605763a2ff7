package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"hostelhub/internal/attendance"
	"hostelhub/internal/auth"
	"hostelhub/internal/clock"
	"hostelhub/internal/geofence"
	"hostelhub/internal/session"
	"hostelhub/internal/stats"
)

// Ledger is the subset of *attendance.Ledger the handlers call.
type Ledger interface {
	Mark(ctx context.Context, req attendance.MarkRequest) (attendance.Record, error)
	Check(ctx context.Context, userID, day string) (attendance.CheckResult, error)
	Reset(ctx context.Context, userID, day string) (int, error)
	History(ctx context.Context, userID, from, to string) ([]attendance.Record, error)
	Student(ctx context.Context, userID string) (attendance.Student, error)
	Record(ctx context.Context, id string) (attendance.Record, error)
	Correct(ctx context.Context, id string, c attendance.Correction) (attendance.Record, error)
}

// Stats is the subset of *stats.Service the handlers call.
type Stats interface {
	Monthly(ctx context.Context, userID string, year int, month time.Month) (stats.Summary, error)
	Roster(ctx context.Context, hostelBlock, day string) (stats.Roster, error)
}

// Handler serves the /attendance routes.
type Handler struct {
	ledger   Ledger
	stats    Stats
	clock    clock.Clock
	loc      *time.Location
	log      *slog.Logger
	validate *validator.Validate
}

// NewHandler builds a Handler; nil clock and location mean wall time in UTC.
func NewHandler(l Ledger, s Stats, clk clock.Clock, loc *time.Location, log *slog.Logger) *Handler {
	if clk == nil {
		clk = clock.Real{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		ledger:   l,
		stats:    s,
		clock:    clk,
		loc:      loc,
		log:      log.With("component", "httpapi"),
		validate: newValidator(),
	}
}

// Register mounts the routes on an authenticated group.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("", h.mark)
	g.GET("/check/:userId/:date", h.check)
	g.DELETE("/user/:userId/date/:date", auth.RequireAdmin(), h.reset)
	g.GET("/user/:userId", h.history)
	g.GET("/stats/:userId", h.monthly)

	g.GET("/date/:date", auth.RequireAdmin(), h.roster)
	g.GET("/today", auth.RequireAdmin(), h.today)
	g.PUT("/:id", auth.RequireAdmin(), h.correct)
}

type markRequest struct {
	UserID    string          `json:"userId" validate:"required,max=64"`
	Date      string          `json:"date" validate:"omitempty,calday"`
	IsPresent *bool           `json:"isPresent"`
	Photo     string          `json:"photo"`
	PhotoURL  string          `json:"photoUrl"`
	Latitude  json.RawMessage `json:"latitude"`
	Longitude json.RawMessage `json:"longitude"`
	Reason    string          `json:"reason" validate:"max=500"`
}

func (h *Handler) mark(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
		return
	}

	present := req.IsPresent == nil || *req.IsPresent
	claims, _ := auth.FromContext(c)
	if !present && !claims.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only admins can record an absence"})
		return
	}
	if _, ok := h.authorize(c, req.UserID); !ok {
		return
	}

	pos, err := geofence.ParsePosition(req.Latitude, req.Longitude)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid coordinates"})
		return
	}
	photo := req.Photo
	if photo == "" {
		photo = req.PhotoURL
	}

	rec, err := h.ledger.Mark(c.Request.Context(), attendance.MarkRequest{
		UserID:    req.UserID,
		Day:       req.Date,
		IsPresent: present,
		Photo:     photo,
		Position:  pos,
		Note:      req.Reason,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *Handler) check(c *gin.Context) {
	userID := c.Param("userId")
	if _, ok := h.authorize(c, userID); !ok {
		return
	}
	res, err := h.ledger.Check(c.Request.Context(), userID, c.Param("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) reset(c *gin.Context) {
	userID, day := c.Param("userId"), c.Param("date")
	if _, ok := h.authorize(c, userID); !ok {
		return
	}
	n, err := h.ledger.Reset(c.Request.Context(), userID, day)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deletedCount": n})
}

func (h *Handler) history(c *gin.Context) {
	userID := c.Param("userId")
	if _, ok := h.authorize(c, userID); !ok {
		return
	}
	recs, err := h.ledger.History(c.Request.Context(), userID, c.Query("from"), c.Query("to"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if recs == nil {
		recs = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (h *Handler) monthly(c *gin.Context) {
	userID := c.Param("userId")
	if _, ok := h.authorize(c, userID); !ok {
		return
	}
	now := h.clock.Now().In(h.loc)
	year, month := now.Year(), int(now.Month())
	if v := c.Query("year"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "year must be a number"})
			return
		}
		year = parsed
	}
	if v := c.Query("month"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "month must be a number"})
			return
		}
		month = parsed
	}
	sum, err := h.stats.Monthly(c.Request.Context(), userID, year, time.Month(month))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *Handler) roster(c *gin.Context) {
	h.writeRoster(c, c.Param("date"))
}

func (h *Handler) today(c *gin.Context) {
	h.writeRoster(c, h.clock.Now().In(h.loc).Format(attendance.DayLayout))
}

// writeRoster answers with the day's roster of the admin's own block.
func (h *Handler) writeRoster(c *gin.Context, day string) {
	claims, _ := auth.FromContext(c)
	if claims.HostelBlock == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "Admin is not assigned to a hostel block"})
		return
	}
	roster, err := h.stats.Roster(c.Request.Context(), claims.HostelBlock, day)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, roster)
}

type correctRequest struct {
	Date      *string `json:"date" validate:"omitempty,calday"`
	Session   *string `json:"session" validate:"omitempty,oneof=morning afternoon"`
	IsPresent *bool   `json:"isPresent"`
	Reason    *string `json:"reason" validate:"omitempty,max=500"`
}

func (h *Handler) correct(c *gin.Context) {
	var req correctRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
		return
	}

	id := c.Param("id")
	rec, err := h.ledger.Record(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if _, ok := h.authorize(c, rec.UserID); !ok {
		return
	}

	corr := attendance.Correction{Day: req.Date, IsPresent: req.IsPresent, Note: req.Reason}
	if req.Session != nil {
		sess := session.ID(*req.Session)
		corr.Session = &sess
	}
	updated, err := h.ledger.Correct(c.Request.Context(), id, corr)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// authorize loads the target student and checks the caller may act on
// them. It writes the error response itself and reports false on failure.
func (h *Handler) authorize(c *gin.Context, userID string) (attendance.Student, bool) {
	claims, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return attendance.Student{}, false
	}
	st, err := h.ledger.Student(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return attendance.Student{}, false
	}
	if !claims.CanAccess(st.ID, st.HostelBlock) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not allowed to access this student's attendance"})
		return attendance.Student{}, false
	}
	return st, true
}
