package api

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/taoyao-code/device-gateway/internal/api/docs"
)

// RegisterRoutes 注册只读查询路由
func RegisterRoutes(r gin.IRouter, h *Handler) {
	g := r.Group("/api")

	g.GET("/devices", h.ListDevices)
	g.GET("/devices/:serial", h.GetDevice)
	g.GET("/device-states", h.ListDeviceStates)
	g.GET("/device-states/definitions", h.StateDefinitions)
	g.GET("/connections", h.ListConnections)

	h.logger.Info("readonly routes registered", zap.Int("endpoints", 5))
}

// RegisterSwagger 挂载 Swagger UI 与 doc.json
func RegisterSwagger(r gin.IRouter) {
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler,
		ginSwagger.InstanceName(docs.SwaggerInfo.InstanceName())))
}
