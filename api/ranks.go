package api

import (
	"context"
	"net/http"
	"strconv"

	"chatwarden/model"
	"chatwarden/moderation"

	"github.com/gin-gonic/gin"
)

// RankAdmin edits stored ranks and permission overrides.
type RankAdmin interface {
	SetRank(ctx context.Context, chatID, userID string, rank model.Rank, assignedBy string) error
	RemoveRank(ctx context.Context, chatID, userID string) error
	ListRanks(ctx context.Context, chatID string) ([]model.RankAssignment, error)
	SetOverride(ctx context.Context, o model.PermissionOverride) error
	DeleteOverride(ctx context.Context, chatID string, rank model.Rank, capability model.Capability) error
}

func (s *Server) listRanks(c *gin.Context) {
	list, err := s.ranks.ListRanks(c.Request.Context(), c.Param("chat"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ranks": orEmpty(list)})
}

// setRank lets a moderator holding manage_ranks assign a rank below their own
// to a user they outrank.
func (s *Server) setRank(c *gin.Context) {
	var req struct {
		Rank        model.Rank `json:"rank" binding:"required"`
		ModeratorID string     `json:"moderator_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if !req.Rank.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"err": "rank must be between 1 and 5"})
		return
	}

	ctx := c.Request.Context()
	chatID, userID := c.Param("chat"), c.Param("user")
	if err := s.actions.Authorize(ctx, chatID, req.ModeratorID, userID, model.CapManageRanks); err != nil {
		s.fail(c, err)
		return
	}
	modRank, err := s.actions.Require(ctx, chatID, req.ModeratorID, model.CapManageRanks)
	if err != nil {
		s.fail(c, err)
		return
	}
	if req.Rank <= modRank {
		s.fail(c, moderation.ErrHierarchy)
		return
	}

	if err := s.ranks.SetRank(ctx, chatID, userID, req.Rank, req.ModeratorID); err != nil {
		s.fail(c, err)
		return
	}
	s.log.Info("rank assigned", "chat", chatID, "user", userID, "rank", req.Rank.String(), "moderator", req.ModeratorID)
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "rank": req.Rank})
}

func (s *Server) removeRank(c *gin.Context) {
	ctx := c.Request.Context()
	chatID, userID := c.Param("chat"), c.Param("user")
	if err := s.actions.Authorize(ctx, chatID, c.Query("moderator"), userID, model.CapManageRanks); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.ranks.RemoveRank(ctx, chatID, userID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) setOverride(c *gin.Context) {
	var req struct {
		Rank        model.Rank       `json:"rank" binding:"required"`
		Capability  model.Capability `json:"capability" binding:"required,oneof=mute kick ban warn manage_ranks"`
		Allowed     *bool            `json:"allowed" binding:"required"`
		ModeratorID string           `json:"moderator_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if !req.Rank.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"err": "rank must be between 1 and 5"})
		return
	}

	ctx := c.Request.Context()
	chatID := c.Param("chat")
	if _, err := s.actions.Require(ctx, chatID, req.ModeratorID, model.CapManageRanks); err != nil {
		s.fail(c, err)
		return
	}
	o := model.PermissionOverride{ChatID: chatID, Rank: req.Rank, Capability: req.Capability, Allowed: *req.Allowed}
	if err := s.ranks.SetOverride(ctx, o); err != nil {
		s.fail(c, err)
		return
	}
	s.log.Info("override set", "chat", chatID, "rank", o.Rank.String(), "capability", o.Capability, "allowed", o.Allowed)
	c.JSON(http.StatusOK, o)
}

func (s *Server) deleteOverride(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("rank"))
	rank := model.Rank(n)
	if err != nil || !rank.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"err": "rank must be between 1 and 5"})
		return
	}

	ctx := c.Request.Context()
	chatID := c.Param("chat")
	if _, err := s.actions.Require(ctx, chatID, c.Query("moderator"), model.CapManageRanks); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.ranks.DeleteOverride(ctx, chatID, rank, model.Capability(c.Param("capability"))); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
