package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"afiyahmed-client-go/src/configs"
	"afiyahmed-client-go/src/core/diagnosis"
	coreimage "afiyahmed-client-go/src/core/image"
	"afiyahmed-client-go/src/core/lifecycle"
	"afiyahmed-client-go/src/core/utils"
	"afiyahmed-client-go/src/task"

	"github.com/gin-gonic/gin"
)

const structuredBody = `{"prediction":{"top_3_possible_diseases":[{"name":"Eczema","confidence":"75%"}],"explanation":"e","urgency":"Moderate","recommended_next_steps":["see doctor"],"disclaimer":"d"}}`

// newTestGateway 组装带真实流水线的网关，路由挂载到独立的gin引擎
func newTestGateway(t *testing.T, backendURL string) (*gin.Engine, *lifecycle.Controller) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &configs.Config{}
	cfg.ApplyDefaults()
	cfg.Service.BaseURL = backendURL
	cfg.Service.Timeout = 5
	cfg.Log.LogDir = t.TempDir()
	cfg.Log.LogFile = "test.log"
	cfg.Log.LogLevel = "info"

	logger, err := utils.NewLogger(cfg)
	if err != nil {
		t.Fatalf("创建测试日志记录器失败: %v", err)
	}
	t.Cleanup(func() { logger.Close() })

	transcoder := coreimage.NewTranscoder(&cfg.Image, logger)
	client := diagnosis.NewClient(backendURL, cfg.RequestTimeout(), logger)

	taskManager := task.NewTaskManager(task.ResourceConfig{MaxWorkers: 2})
	taskManager.Start()
	t.Cleanup(taskManager.Stop)

	controller := lifecycle.NewController(context.Background(), transcoder, client, taskManager, logger, nil)

	service := NewDefaultGatewayService(cfg, controller, nil, logger)
	engine := gin.New()
	if err := service.Start(context.Background(), engine, engine.Group("/api")); err != nil {
		t.Fatalf("注册网关路由失败: %v", err)
	}
	return engine, controller
}

func makeTestPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("生成测试图片失败: %v", err)
	}
	return buf.Bytes()
}

// diagnoseRequest 构造multipart提交请求，imageData为nil时不带图片字段
func diagnoseRequest(t *testing.T, symptoms string, imageData []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("symptoms", symptoms); err != nil {
		t.Fatalf("写入症状字段失败: %v", err)
	}
	if imageData != nil {
		part, err := writer.CreateFormFile("file", "skin.png")
		if err != nil {
			t.Fatalf("创建图片字段失败: %v", err)
		}
		part.Write(imageData)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/diagnose", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// waitForPhase 轮询等待控制器到达指定阶段
func waitForPhase(t *testing.T, controller *lifecycle.Controller, phase lifecycle.Phase) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if controller.State().Phase == phase {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("等待阶段%q超时，当前: %q", phase, controller.State().Phase)
}

func TestDiagnose_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(structuredBody))
	}))
	defer server.Close()

	engine, _ := newTestGateway(t, server.URL)
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, diagnoseRequest(t, "红疹瘙痒", makeTestPNG(t)))

	if recorder.Code != http.StatusOK {
		t.Fatalf("状态码 = %d, want %d, body: %s", recorder.Code, http.StatusOK, recorder.Body.String())
	}

	var resp DiagnoseResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("响应JSON解析失败: %v", err)
	}
	if !resp.Success || resp.Outcome == nil {
		t.Fatalf("响应应携带规范化结果: %+v", resp)
	}
	if resp.Outcome.Kind != diagnosis.ResultSuccess {
		t.Fatalf("结果形态 = %q, want %q", resp.Outcome.Kind, diagnosis.ResultSuccess)
	}
	if resp.Outcome.Report.TopDiseases[0].Name != "Eczema" {
		t.Errorf("疾病名称 = %q, want %q", resp.Outcome.Report.TopDiseases[0].Name, "Eczema")
	}
}

func TestDiagnose_MissingFileReportsValidation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("缺少图片的提交不应触发网络调用")
	}))
	defer server.Close()

	engine, _ := newTestGateway(t, server.URL)
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, diagnoseRequest(t, "红疹", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("状态码 = %d, want %d", recorder.Code, http.StatusOK)
	}

	var resp DiagnoseResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("响应JSON解析失败: %v", err)
	}
	if resp.Outcome == nil || resp.Outcome.Kind != diagnosis.ResultFailure {
		t.Fatalf("缺少图片应得到失败结果: %+v", resp)
	}
	if resp.Outcome.Failure.Kind != diagnosis.FailureValidation {
		t.Errorf("错误分类 = %q, want %q", resp.Outcome.Failure.Kind, diagnosis.FailureValidation)
	}
}

func TestDiagnose_ConflictWhileSubmitting(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(structuredBody))
	}))
	defer server.Close()

	engine, controller := newTestGateway(t, server.URL)

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		recorder := httptest.NewRecorder()
		engine.ServeHTTP(recorder, diagnoseRequest(t, "第一个", makeTestPNG(t)))
	}()
	waitForPhase(t, controller, lifecycle.PhaseSubmitting)

	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, diagnoseRequest(t, "第二个", makeTestPNG(t)))
	if recorder.Code != http.StatusConflict {
		t.Errorf("提交在途时的并发提交状态码 = %d, want %d", recorder.Code, http.StatusConflict)
	}

	close(release)
	<-firstDone
}

// 调用方断开只结束等待，不中断在途提交
func TestDiagnose_SurvivesCallerDisconnect(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(structuredBody))
	}))
	defer server.Close()

	engine, controller := newTestGateway(t, server.URL)
	stateChan := controller.Subscribe()
	defer controller.Unsubscribe(stateChan)

	ctx, cancel := context.WithCancel(context.Background())
	req := diagnoseRequest(t, "红疹", makeTestPNG(t)).WithContext(ctx)

	handlerDone := make(chan struct{})
	go func() {
		defer close(handlerDone)
		engine.ServeHTTP(httptest.NewRecorder(), req)
	}()
	waitForPhase(t, controller, lifecycle.PhaseSubmitting)

	// 模拟移动端断开连接
	cancel()
	select {
	case <-handlerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("调用方断开后处理函数应该返回")
	}

	close(release)

	deadline := time.After(10 * time.Second)
	for {
		select {
		case state := <-stateChan:
			if state.Phase != lifecycle.PhaseCompleted {
				continue
			}
			if state.Outcome.Kind != diagnosis.ResultSuccess {
				t.Fatalf("断开后提交仍应正常完成，实际: %+v", state.Outcome)
			}
			return
		case <-deadline:
			t.Fatal("等待提交完成超时")
		}
	}
}

func TestAwaitCompletion_SkipsStaleCompleted(t *testing.T) {
	staleOutcome := diagnosis.PlainMessageOutcome("上一次的结果")
	wantOutcome := diagnosis.SuccessOutcome(&diagnosis.Report{})

	stateChan := make(chan lifecycle.State, 8)
	// 订阅建立在上一次提交完成之前时，channel里会残留旧的Completed通知
	stateChan <- lifecycle.State{
		Phase:        lifecycle.PhaseCompleted,
		SubmissionID: "stale-submission",
		Outcome:      &staleOutcome,
	}
	stateChan <- lifecycle.State{Phase: lifecycle.PhaseSubmitting, SubmissionID: "this-submission"}
	stateChan <- lifecycle.State{
		Phase:        lifecycle.PhaseCompleted,
		SubmissionID: "this-submission",
		Outcome:      &wantOutcome,
	}

	state, err := awaitCompletion(stateChan, "this-submission", time.Second, nil)
	if err != nil {
		t.Fatalf("awaitCompletion失败: %v", err)
	}
	if state.SubmissionID != "this-submission" {
		t.Fatalf("返回了其他提交的结果: %q", state.SubmissionID)
	}
	if state.Outcome.Kind != diagnosis.ResultSuccess {
		t.Errorf("结果形态 = %q, want %q", state.Outcome.Kind, diagnosis.ResultSuccess)
	}
}

func TestAwaitCompletion_Timeout(t *testing.T) {
	stateChan := make(chan lifecycle.State, 1)
	_, err := awaitCompletion(stateChan, "any", 50*time.Millisecond, nil)
	if !errors.Is(err, errAwaitTimeout) {
		t.Fatalf("期望超时错误，实际: %v", err)
	}
}

func TestHistory_WithoutDatabase(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	engine, _ := newTestGateway(t, server.URL)
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/history", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("状态码 = %d, want %d", recorder.Code, http.StatusOK)
	}
	if body := bytes.TrimSpace(recorder.Body.Bytes()); string(body) != "[]" {
		t.Errorf("无历史库时应返回空列表，实际: %s", body)
	}
}
