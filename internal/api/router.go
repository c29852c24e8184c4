package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/photoproc/internal/api/handlers"
	"github.com/your-org/photoproc/internal/api/ws"
	"github.com/your-org/photoproc/internal/auth"
	"github.com/your-org/photoproc/internal/queue"
	"github.com/your-org/photoproc/internal/storage"
)

type RouterConfig struct {
	APIKey         string
	Records        storage.RecordStore
	Assets         storage.AssetStore
	Producer       queue.Producer
	Hub            *ws.Hub
	MaxUploadBytes int64
	// Checks are probed by /readyz in addition to the stores.
	Checks []handlers.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	checks := append([]handlers.Check{
		{Name: "records", Ping: cfg.Records.Ping},
		{Name: "assets", Ping: cfg.Assets.Ping},
	}, cfg.Checks...)
	systemH := handlers.NewSystemHandler(checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	if cfg.Hub != nil {
		v1.GET("/ops/ws", cfg.Hub.HandleWS)
	}

	photoH := handlers.NewPhotoHandler(cfg.Records, cfg.Assets, cfg.Producer, cfg.MaxUploadBytes)
	v1.POST("/photos", photoH.Upload)
	v1.GET("/photos/:id", photoH.Get)
	v1.GET("/photos/:id/preview", photoH.Preview)
	v1.GET("/photos/:id/original", photoH.Original)
	v1.POST("/photos/:id/tags", photoH.AddTags)

	return r
}
