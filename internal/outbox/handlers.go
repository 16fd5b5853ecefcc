package outbox

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// RegisterAdminRoutes registers operator endpoints for the outbox.
func (o *Outbox) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/outbox/parked", o.handleListParked)
	r.GET("/outbox/:id", o.handleGet)
	r.POST("/outbox/:id/requeue", o.handleRequeue)
}

func (o *Outbox) handleListParked(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	events, err := o.ListParked(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list parked events"})
		return
	}
	if events == nil {
		events = []*Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (o *Outbox) handleGet(c *gin.Context) {
	ev, err := o.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "event not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load event"})
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (o *Outbox) handleRequeue(c *gin.Context) {
	id := c.Param("id")
	if err := o.Requeue(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "event not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to requeue event"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "pending"})
}
