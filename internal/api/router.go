package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"aeropark-backend/config"
	"aeropark-backend/internal/mw"
)

// NewRouter creates and configures the gin engine.
func NewRouter(cfg *config.Config, h *Handler, auth *mw.Auth, cache *mw.ResponseCache, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(mw.Recovery(logger), mw.RequestLogger(logger), mw.CORS(cfg.CORS))
	if cfg.Server.RequestIPHeader != "" {
		r.TrustedPlatform = cfg.Server.RequestIPHeader
	}

	r.GET("/", h.Info)
	r.GET("/sante", h.Health)
	r.GET("/ws/parking", h.ParkingStream)

	api := r.Group("/api/v1")
	api.Use(mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst))
	{
		api.GET("", h.Info)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
		api.GET("/sensor/health", h.SensorHealth)

		user := api.Group("")
		user.Use(auth.RequireAuth())
		{
			user.GET("/parking/status", cache.Handler(), h.GetParkingStatus)
			user.POST("/parking/reserve", h.Reserve)
			user.POST("/parking/release/:place_id", h.Release)
			user.GET("/parking/mes-reservations", h.MyReservations)
			user.POST("/parking/reservations/:id/cancel", h.Cancel)
			user.POST("/parking/reservations/:id/check", h.CheckExpiry)
			user.GET("/users/me", h.GetMe)

			user.GET("/subscriptions", h.ListSubscriptions)
			user.PUT("/subscriptions", h.PutSubscription)
			user.DELETE("/subscriptions", h.DeleteSubscription)
		}

		admin := api.Group("/admin")
		admin.Use(auth.RequireAuth(), auth.RequireAdmin())
		{
			admin.POST("/parking/add", h.AddSpace)
			admin.DELETE("/parking/:place_id", h.RemoveSpace)
			admin.GET("/parking/all", h.ListSpaces)
			admin.GET("/reservations", h.ListActiveReservations)
		}

		sensor := api.Group("/sensor")
		sensor.Use(mw.RequireAPIKey(cfg.Sensor.APIKey))
		{
			sensor.POST("/update", h.SensorUpdate)
			sensor.GET("/status", h.AllSensors)
			sensor.GET("/status/:place_id", h.SensorStatus)
			sensor.POST("/test/:place_id", h.SimulateSensor)
		}
	}

	return r
}
