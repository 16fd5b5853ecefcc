package notify

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// RegisterProtectedRoutes registers the notification endpoints. Callers see
// only their own notifications; identity comes from the auth middleware.
func (s *Service) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/notifications", s.handleList)
	r.GET("/notifications/unread-count", s.handleUnreadCount)
	r.POST("/notifications/:id/read", s.handleMarkRead)
	r.POST("/notifications/read-all", s.handleMarkAllRead)
}

func (s *Service) handleList(c *gin.Context) {
	userID := c.GetString("authUserID")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	unreadOnly := c.Query("unread") == "true"

	notifications, err := s.ListByUser(c.Request.Context(), userID, unreadOnly, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list notifications"})
		return
	}
	if notifications == nil {
		notifications = []*Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications, "count": len(notifications)})
}

func (s *Service) handleUnreadCount(c *gin.Context) {
	userID := c.GetString("authUserID")
	count, err := s.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to count notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

func (s *Service) handleMarkRead(c *gin.Context) {
	userID := c.GetString("authUserID")
	if err := s.MarkRead(c.Request.Context(), c.Param("id"), userID); err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "notification not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to mark notification"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "read": true})
}

func (s *Service) handleMarkAllRead(c *gin.Context) {
	userID := c.GetString("authUserID")
	changed, err := s.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to mark notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": changed})
}
