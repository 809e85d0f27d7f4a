package api

import (
	"github.com/gin-gonic/gin"
)

func Router(a *App) *gin.Engine {
	r := gin.Default()

	apiGroup := r.Group("/api")
	{
		// служебные маршруты — до маршрутов с параметрами
		apiGroup.GET("/_meta", MetaHandler(a))
		apiGroup.GET("/_migrations", MigrationsHandler(a))
		apiGroup.POST("/_migrate", MigrateHandler(a))

		apiGroup.GET("/:entity/count", CountHandler(a))

		apiGroup.GET("/:entity", ListHandler(a))
		apiGroup.POST("/:entity", CreateHandler(a))
		apiGroup.GET("/:entity/:id", GetOneHandler(a))
		apiGroup.PATCH("/:entity/:id", PatchHandler(a))
		apiGroup.DELETE("/:entity/:id", DeleteHandler(a))
	}
	return r
}

func RunServer(addr string, a *App) error {
	return Router(a).Run(addr)
}
