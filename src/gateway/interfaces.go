package gateway

import (
	"context"

	"github.com/gin-gonic/gin"
)

// GatewayService 定义本地网关服务接口
type GatewayService interface {
	// 将网关的路由注册到 engine 与 apiGroup
	Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error
}
