package api

import (
	"github.com/gin-gonic/gin"

	v1 "github.com/taxmill/taxmill/internal/api/v1"
	"github.com/taxmill/taxmill/internal/rest/middleware"
)

type Handlers struct {
	Tax    *v1.TaxHandler
	Health *v1.HealthHandler
}

func NewHandlers(tax *v1.TaxHandler, health *v1.HealthHandler) Handlers {
	return Handlers{Tax: tax, Health: health}
}

func NewRouter(handlers Handlers) *gin.Engine {
	router := gin.Default()
	router.Use(middleware.ErrorHandler())

	router.GET("/health", handlers.Health.Health)

	v1Group := router.Group("/v1")
	registerV1Routes(v1Group, handlers)

	return router
}

func registerV1Routes(router *gin.RouterGroup, handlers Handlers) {
	taxes := router.Group("/taxes")
	{
		taxes.POST("/compute", handlers.Tax.ComputeTaxes)
		taxes.POST("/totals", handlers.Tax.ComputeTotals)
	}
}
