package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"afiyahmed-client-go/src/configs"
	"afiyahmed-client-go/src/core/lifecycle"
	"afiyahmed-client-go/src/core/picker"
	"afiyahmed-client-go/src/core/utils"
	"afiyahmed-client-go/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

// DefaultGatewayService 本地网关：表现层通过它提交诊断并订阅生命周期状态
// 网关只调用控制器的Submit并读取状态，从不改写流水线持有的数据
type DefaultGatewayService struct {
	logger     *utils.Logger
	config     *configs.Config
	controller *lifecycle.Controller
	db         *gorm.DB
	upgrader   websocket.Upgrader
}

// NewDefaultGatewayService 构造函数
func NewDefaultGatewayService(config *configs.Config, controller *lifecycle.Controller, db *gorm.DB, logger *utils.Logger) *DefaultGatewayService {
	return &DefaultGatewayService{
		logger:     logger,
		config:     config,
		controller: controller,
		db:         db,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Start 实现 GatewayService 接口，注册所有网关路由
func (s *DefaultGatewayService) Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error {
	apiGroup.GET("/diagnose", s.handleGet)
	apiGroup.POST("/diagnose", s.handlePost)
	apiGroup.OPTIONS("/diagnose", s.handleOptions)
	apiGroup.GET("/state", s.handleState)
	apiGroup.GET("/state/ws", s.handleStateWS)
	apiGroup.GET("/history", s.handleHistory)

	s.logger.Info("诊断网关路由注册完成")
	return nil
}

// handleOptions 处理OPTIONS请求（CORS）
func (s *DefaultGatewayService) handleOptions(c *gin.Context) {
	s.addCORSHeaders(c)
	c.Status(http.StatusOK)
}

// handleGet 处理GET请求（状态检查）
func (s *DefaultGatewayService) handleGet(c *gin.Context) {
	s.addCORSHeaders(c)
	c.String(http.StatusOK, fmt.Sprintf("诊断网关运行正常，目标服务: %s", s.config.Service.BaseURL))
}

// handlePost 处理POST请求（提交诊断）
// multipart表单：symptoms文本字段 + file图片文件
// 等待本次提交完成后返回规范化结果；已有提交在途时返回409
func (s *DefaultGatewayService) handlePost(c *gin.Context) {
	s.addCORSHeaders(c)

	symptoms, raw, err := s.parseMultipartRequest(c)
	if err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		s.logger.Warn(fmt.Sprintf("诊断请求解析失败: %v", err))
		return
	}

	// 先订阅再提交，保证不会错过Completed通知
	stateChan := s.controller.Subscribe()
	defer s.controller.Unsubscribe(stateChan)

	submissionID, accepted := s.controller.Submit(symptoms, raw)
	if !accepted {
		s.respondError(c, http.StatusConflict, "已有诊断正在进行，请稍候")
		return
	}

	// 客户端超时之外留出流水线本身的余量
	timeout := s.config.RequestTimeout() + 30*time.Second
	state, err := awaitCompletion(stateChan, submissionID, timeout, c.Request.Context().Done())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, DiagnoseResponse{
			Success: true,
			Outcome: state.Outcome,
		})
	case errors.Is(err, errAwaitTimeout):
		s.respondError(c, http.StatusGatewayTimeout, "等待诊断结果超时")
	default:
		// 调用方已断开，提交在控制器上下文里继续执行
	}
}

var (
	errAwaitTimeout = errors.New("await completion timeout")
	errCallerGone   = errors.New("caller disconnected")
)

// awaitCompletion 等待指定提交的Completed状态
// 订阅channel里可能残留上一次提交的Completed通知，ID不匹配的一律跳过
func awaitCompletion(stateChan chan lifecycle.State, submissionID string, timeout time.Duration, callerDone <-chan struct{}) (lifecycle.State, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case state := <-stateChan:
			if state.Phase == lifecycle.PhaseCompleted &&
				state.SubmissionID == submissionID && state.Outcome != nil {
				return state, nil
			}
		case <-deadline.C:
			return lifecycle.State{}, errAwaitTimeout
		case <-callerDone:
			return lifecycle.State{}, errCallerGone
		}
	}
}

// handleState 返回当前生命周期状态快照
func (s *DefaultGatewayService) handleState(c *gin.Context) {
	s.addCORSHeaders(c)
	c.JSON(http.StatusOK, StateResponse{State: s.controller.State()})
}

// handleStateWS 通过WebSocket推送每次状态转换（表现层的响应式订阅通道）
func (s *DefaultGatewayService) handleStateWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("WebSocket升级失败: %v", err))
		return
	}
	defer conn.Close()

	stateChan := s.controller.Subscribe()
	defer s.controller.Unsubscribe(stateChan)

	// 连接建立后先推送当前状态
	if err := conn.WriteJSON(s.controller.State()); err != nil {
		return
	}

	// 丢弃入站消息，同时感知连接关闭
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case state := <-stateChan:
			if err := conn.WriteJSON(state); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// handleHistory 返回最近的提交历史
func (s *DefaultGatewayService) handleHistory(c *gin.Context) {
	s.addCORSHeaders(c)

	if s.db == nil {
		c.JSON(http.StatusOK, []models.DiagnosisRecord{})
		return
	}

	records, err := models.RecentRecords(s.db, 20)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, fmt.Sprintf("查询提交历史失败: %v", err))
		return
	}
	c.JSON(http.StatusOK, records)
}

// parseMultipartRequest 解析multipart表单请求
func (s *DefaultGatewayService) parseMultipartRequest(c *gin.Context) (string, picker.RawImage, error) {
	maxSize := s.config.Image.MaxFileSize
	if err := c.Request.ParseMultipartForm(maxSize); err != nil {
		return "", picker.RawImage{}, fmt.Errorf("解析multipart表单失败: %v", err)
	}

	symptoms := c.Request.FormValue("symptoms")

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		// 缺少图片属于校验失败，让流水线用统一的错误分类回应
		return symptoms, picker.RawImage{}, nil
	}
	defer file.Close()

	if header.Size > maxSize {
		return "", picker.RawImage{}, fmt.Errorf("图片大小超过限制，最大允许%dMB", maxSize/1024/1024)
	}

	imageData, err := io.ReadAll(file)
	if err != nil {
		return "", picker.RawImage{}, fmt.Errorf("读取图片数据失败: %v", err)
	}

	return symptoms, picker.FromMemory(imageData), nil
}

// addCORSHeaders 添加CORS头
func (s *DefaultGatewayService) addCORSHeaders(c *gin.Context) {
	c.Header("Access-Control-Allow-Headers", "content-type")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
}

// respondError 返回错误响应
func (s *DefaultGatewayService) respondError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, DiagnoseResponse{
		Success: false,
		Message: message,
	})
}
