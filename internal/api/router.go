package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"moonmining-backend/config"
	"moonmining-backend/internal/mw"
	"moonmining-backend/internal/store"
	"moonmining-backend/internal/valuation"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.ServerConfig, s store.Store, webpushOptions *webpush.Options, aggregator *valuation.Aggregator) *gin.Engine {
	r := gin.Default()

	db := s.DB()
	handler := NewHandler(s, webpushOptions, aggregator)

	rps := cfg.RateLimitPerSec
	if rps <= 0 {
		rps = 10
	}
	rateLimiter := mw.RateLimiter(rate.Limit(rps), 5, cfg.RequestIPHeader)

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	// API group
	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/moons", caching, GetMoons(db))
		api.GET("/moons/:moon_id", GetMoon(db))
		api.POST("/moons/:moon_id/products", handler.PostMoonProducts)

		api.GET("/extractions", caching, GetExtractions(s))
		api.GET("/refineries/:refinery_id/extractions", caching, GetRefineryExtractions(s))

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
