package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/droptrack/internal/chat"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, src Sources) {
	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	api := router.Group("/api")
	api.GET("/status", handleStatus(src))
	api.GET("/chat", handleChat(src))
	api.GET("/map", handleMap(src))
	api.GET("/badge", handleBadge(src))
	api.GET("/events", handleSSE(src, defaultSSEInterval))
}

func handleStatus(src Sources) gin.HandlerFunc {
	return func(c *gin.Context) {
		if src.Status == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime client not running"})
			return
		}
		c.JSON(http.StatusOK, statusOf(src.Status))
	}
}

func handleChat(src Sources) gin.HandlerFunc {
	return func(c *gin.Context) {
		if src.Chat == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no chat session"})
			return
		}
		v := src.Chat.View()
		c.JSON(http.StatusOK, ChatView{
			OrderID: v.OrderID,
			Title:   v.Title,
			Open:    v.Open,
			Loading: v.Loading,
			Unread:  v.Unread,
			Typing:  v.Typing,
			Bubbles: chat.Render(v, src.Role),
		})
	}
}

func handleMap(src Sources) gin.HandlerFunc {
	return func(c *gin.Context) {
		if src.Map == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no tracking session"})
			return
		}
		out := MapView{View: src.Map.View()}
		if src.Widget != nil {
			st := src.Widget.State()
			out.Widget = &st
		}
		c.JSON(http.StatusOK, out)
	}
}

func handleBadge(src Sources) gin.HandlerFunc {
	return func(c *gin.Context) {
		if src.Badge == nil {
			c.JSON(http.StatusOK, BadgeView{})
			return
		}
		c.JSON(http.StatusOK, badgeOf(src.Badge))
	}
}
