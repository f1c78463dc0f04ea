package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/swipematch/internal/canon"
	"github.com/roach88/swipematch/internal/engine"
	"github.com/roach88/swipematch/internal/model"
)

type createRoomRequest struct {
	RoomID      string           `json:"roomId"`
	MemberCount int64            `json:"memberCount"`
	Status      model.RoomStatus `json:"status"`
}

type statusRequest struct {
	From model.RoomStatus `json:"from"`
	To   model.RoomStatus `json:"to" binding:"required"`
}

type voteRequest struct {
	ItemID   string         `json:"itemId"`
	UserID   string         `json:"userId"`
	VoteType model.VoteType `json:"voteType"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (s *Server) health(c *gin.Context) {
	if p, ok := s.store.(interface{ Ping() error }); ok {
		if err := p.Ping(); err != nil {
			s.logger.Error("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "store unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.Status == "" {
		req.Status = model.RoomStatusWaiting
	}

	room := model.Room{
		ID:          canon.Identifier(req.RoomID),
		MemberCount: req.MemberCount,
		Status:      req.Status,
		CreatedAt:   s.clock.Now().UTC(),
	}
	if err := s.store.CreateRoom(c.Request.Context(), room); err != nil {
		s.writeError(c, err)
		return
	}
	s.logger.Info("room created", "room_id", room.ID, "member_count", room.MemberCount)
	c.JSON(http.StatusCreated, room)
}

func (s *Server) getRoom(c *gin.Context) {
	room, err := s.store.GetRoom(c.Request.Context(), canon.Identifier(c.Param("roomID")))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (s *Server) updateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	ctx := c.Request.Context()
	roomID := canon.Identifier(c.Param("roomID"))

	if req.From == "" {
		room, err := s.store.GetRoom(ctx, roomID)
		if err != nil {
			s.writeError(c, err)
			return
		}
		req.From = room.Status
	}

	applied, err := s.store.UpdateRoomStatus(ctx, roomID, req.From, req.To)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !applied {
		c.JSON(http.StatusConflict, errorResponse{Error: "room is not in status " + string(req.From)})
		return
	}

	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.logger.Info("room status updated", "room_id", roomID, "from", req.From, "to", req.To)
	c.JSON(http.StatusOK, room)
}

func (s *Server) submitVote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	ctx := c.Request.Context()

	rec, err := engine.SubmissionRecord(model.Submission{
		RoomID:   c.Param("roomID"),
		ItemID:   req.ItemID,
		UserID:   req.UserID,
		VoteType: req.VoteType,
	}, s.clock.Now())
	if err != nil {
		s.writeError(c, err)
		return
	}

	if _, err := s.store.GetRoom(ctx, canon.Identifier(c.Param("roomID"))); err != nil {
		s.writeError(c, err)
		return
	}

	seq, err := s.store.AppendChange(ctx, rec)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if s.waker != nil {
		s.waker.Notify()
	}
	c.JSON(http.StatusAccepted, gin.H{"seq": seq})
}

func (s *Server) getCounter(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := canon.Identifier(c.Param("roomID"))
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		s.writeError(c, err)
		return
	}
	counter, err := s.store.GetCounter(ctx, roomID, canon.Identifier(c.Param("itemID")))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, counter)
}

// writeError maps domain errors onto status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, errorResponse{Error: ve.Error(), Field: ve.Field})
	case errors.Is(err, model.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrRoomExists), errors.Is(err, model.ErrInvalidTransition):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		s.logger.Error("request failed",
			"path", c.FullPath(),
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
