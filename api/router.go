package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/scarlin90/signingroom/api/handlers"
	"github.com/scarlin90/signingroom/internal/config"
	"github.com/scarlin90/signingroom/internal/license"
	"github.com/scarlin90/signingroom/internal/network"
	"github.com/scarlin90/signingroom/internal/payment"
	"github.com/scarlin90/signingroom/internal/room"
	"github.com/scarlin90/signingroom/internal/sales"
	"github.com/scarlin90/signingroom/internal/storage"
)

// Deps are the services the HTTP surface drives.
type Deps struct {
	Server   config.ServerConfig
	Store    *storage.Store
	Hub      *room.Hub
	Licenses *license.Manager
	Sales    *sales.Counter
	Oracle   payment.Oracle
	Clock    clockwork.Clock
}

func SetupRouter(d Deps) *gin.Engine {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	router := gin.New()
	allowOrigin := OriginPolicy(d.Server.AllowedOrigins)
	router.Use(gin.Recovery(), RequestLogger(), SecurityHeaders(), CORS(allowOrigin))

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	sockets := network.NewServer(d.Hub, allowOrigin)
	rooms := handlers.NewRoomHandler(d.Hub, sockets, d.Oracle, d.Store, d.Server.PublicURL)
	licenses := handlers.NewLicenseHandler(d.Licenses, d.Sales, d.Oracle, d.Store, d.Clock, d.Server.PublicURL)

	// Sockets reconnect on their own schedule and are not rate limited.
	router.GET("/api/room/:id/websocket", rooms.Socket)

	apiGroup := router.Group("/api")
	if d.Server.RateLimit > 0 {
		apiGroup.Use(NewRateLimiter(d.Server.RateLimit).Middleware())
	}
	{
		apiGroup.POST("/room", rooms.Create)
		apiGroup.POST("/room/:id/invoice", rooms.Invoice)
		apiGroup.POST("/room/:id/extend", rooms.Extend)
		apiGroup.POST("/room/:id/unlock", rooms.Unlock)
		apiGroup.POST("/webhook/lnbits", rooms.Webhook)

		apiGroup.GET("/license/stock", licenses.Stock)
		apiGroup.POST("/license/buy", licenses.Buy)
		apiGroup.POST("/webhook/license", licenses.Webhook)
		apiGroup.GET("/license/claim/:hash", licenses.Claim)
		apiGroup.POST("/license/rotate", licenses.Rotate)
	}

	return router
}
