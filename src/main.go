package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"afiyahmed-client-go/src/configs"
	"afiyahmed-client-go/src/configs/database"
	"afiyahmed-client-go/src/core/diagnosis"
	"afiyahmed-client-go/src/core/image"
	"afiyahmed-client-go/src/core/lifecycle"
	"afiyahmed-client-go/src/core/utils"
	"afiyahmed-client-go/src/gateway"
	"afiyahmed-client-go/src/models"
	"afiyahmed-client-go/src/task"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func LoadConfigAndLogger() (*configs.Config, *utils.Logger, error) {
	// 加载配置,默认使用.config.yaml
	config, configPath, err := configs.LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	// 初始化日志系统
	logger, err := utils.NewLogger(config)
	if err != nil {
		return nil, nil, err
	}
	logger.Info(fmt.Sprintf("日志系统初始化成功, 配置文件路径: %s", configPath))

	return config, logger, nil
}

// BuildPipeline 组装诊断流水线：转码器、HTTP客户端、任务池、生命周期控制器
// ctx是流水线的执行上下文，只在应用关闭时取消
func BuildPipeline(ctx context.Context, config *configs.Config, logger *utils.Logger, db *gorm.DB) (*lifecycle.Controller, *task.TaskManager) {
	transcoder := image.NewTranscoder(&config.Image, logger)
	client := diagnosis.NewClient(config.Service.BaseURL, config.RequestTimeout(), logger)

	taskManager := task.NewTaskManager(task.ResourceConfig{
		MaxWorkers: config.Task.MaxWorkers,
	})
	taskManager.Start()

	controller := lifecycle.NewController(ctx, transcoder, client, taskManager, logger, db)
	return controller, taskManager
}

func StartHttpServer(config *configs.Config, controller *lifecycle.Controller, db *gorm.DB, logger *utils.Logger, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	// 初始化Gin引擎
	if config.Log.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.SetTrustedProxies([]string{"0.0.0.0"})

	// API路由全部挂载到/api前缀下
	apiGroup := router.Group("/api")

	// 启动诊断网关服务
	gatewayService := gateway.NewDefaultGatewayService(config, controller, db, logger)
	if err := gatewayService.Start(groupCtx, router, apiGroup); err != nil {
		logger.Error("诊断网关启动失败", err)
		return nil, err
	}

	// HTTP Server（支持优雅关机）
	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(config.Web.Port),
		Handler: router,
	}

	g.Go(func() error {
		logger.Info(fmt.Sprintf("Gin 服务已启动，访问地址: http://0.0.0.0:%d", config.Web.Port))

		// 在单独的 goroutine 中监听关闭信号
		go func() {
			<-groupCtx.Done()
			logger.Info("收到关闭信号，开始关闭HTTP服务...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP服务关闭失败", err)
			} else {
				logger.Info("HTTP服务已优雅关闭")
			}
		}()

		// ListenAndServe 返回 ErrServerClosed 时表示正常关闭
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP 服务启动失败", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

func GracefulShutdown(cancel context.CancelFunc, logger *utils.Logger, g *errgroup.Group, taskManager *task.TaskManager) {
	// 监听系统信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	logger.Info(fmt.Sprintf("接收到系统信号: %v，开始优雅关闭服务", sig))

	// 取消上下文，通知所有服务开始关闭
	cancel()
	taskManager.Stop()

	// 等待所有服务关闭，设置超时保护
	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("服务关闭过程中出现错误", err)
			os.Exit(1)
		}
		logger.Info("所有服务已优雅关闭")
	case <-time.After(15 * time.Second):
		logger.Error("服务关闭超时，强制退出")
		os.Exit(1)
	}
}

func main() {
	// 加载配置和初始化日志系统
	config, logger, err := LoadConfigAndLogger()
	if err != nil {
		fmt.Println("加载配置或初始化日志系统失败:", err)
		os.Exit(1)
	}

	// 加载 .env 文件
	err = godotenv.Load()
	if err != nil {
		logger.Warn("未找到 .env 文件，使用系统环境变量")
	}

	// 初始化历史库连接（失败时禁用历史记录，不阻止启动）
	db, dbType, err := database.InitDB()
	if err != nil {
		logger.Warn(fmt.Sprintf("历史库连接失败，提交历史已禁用: %v", err))
		db = nil
	} else {
		logger.Info(fmt.Sprintf("历史库连接成功，类型: %s", dbType))
		if err := models.AutoMigrate(db); err != nil {
			logger.Warn(fmt.Sprintf("历史库迁移失败，提交历史已禁用: %v", err))
			db = nil
		}
	}

	// 创建可取消的上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 组装诊断流水线
	controller, taskManager := BuildPipeline(ctx, config, logger, db)

	// 用 errgroup 管理服务
	g, groupCtx := errgroup.WithContext(ctx)

	// 启动网关服务
	if _, err := StartHttpServer(config, controller, db, logger, g, groupCtx); err != nil {
		logger.Error("启动服务失败:", err)
		cancel()
		os.Exit(1)
	}

	// 启动优雅关机处理
	GracefulShutdown(cancel, logger, g, taskManager)

	logger.Info("程序已成功退出")
}
