package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"afiyahmed-client-go/src/core/diagnosis"
	"afiyahmed-client-go/src/core/image"
	"afiyahmed-client-go/src/core/picker"
	"afiyahmed-client-go/src/core/utils"
	"afiyahmed-client-go/src/models"
	"afiyahmed-client-go/src/task"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Phase 提交生命周期阶段
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhaseCompleted  Phase = "completed"
)

// State 生命周期状态快照，订阅方只读，不得修改
type State struct {
	Phase        Phase                       `json:"phase"`
	SubmissionID string                      `json:"submission_id,omitempty"`
	Outcome      *diagnosis.DiagnosisOutcome `json:"outcome,omitempty"` // Phase == PhaseCompleted
}

// TranscodeParams 转码任务参数
type TranscodeParams struct {
	Raw []byte
}

// Controller 请求生命周期控制器
// 唯一持有提交状态的组件：表现层只调用Submit/Reset并订阅状态，从不直接改写
// 同一时刻最多一个提交在途，重复Submit静默忽略，不排队也不取代
type Controller struct {
	mu           sync.Mutex
	phase        Phase
	submissionID string
	outcome      *diagnosis.DiagnosisOutcome
	subscribers  map[chan State]struct{}

	// baseCtx 是流水线的执行上下文，只随应用关闭取消
	// 提交一旦开始就不可取消，观察者断开不影响在途提交
	baseCtx context.Context

	transcoder *image.Transcoder
	client     *diagnosis.Client
	tasks      *task.TaskManager
	logger     *utils.TaggedLogger
	db         *gorm.DB // 历史库，可为nil（禁用历史记录）
}

// NewController 创建生命周期控制器并注册转码执行器
func NewController(ctx context.Context, transcoder *image.Transcoder, client *diagnosis.Client, tasks *task.TaskManager, logger *utils.Logger, db *gorm.DB) *Controller {
	if ctx == nil {
		ctx = context.Background()
	}
	c := &Controller{
		phase:       PhaseIdle,
		subscribers: make(map[chan State]struct{}),
		baseCtx:     ctx,
		transcoder:  transcoder,
		client:      client,
		tasks:       tasks,
		logger:      logger.WithTag("lifecycle"),
		db:          db,
	}

	task.RegisterTaskExecutor(task.TaskTypeTranscode, func(t *task.Task) error {
		params, ok := t.Params.(*TranscodeParams)
		if !ok {
			return fmt.Errorf("转码任务参数类型错误: %T", t.Params)
		}
		compressed, err := c.transcoder.Transcode(t.Context, params.Raw)
		if err != nil {
			return err
		}
		t.Result = compressed
		return nil
	})

	return c
}

// State 返回当前状态快照
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Phase:        c.phase,
		SubmissionID: c.submissionID,
		Outcome:      c.outcome,
	}
}

// Subscribe 订阅状态变更，返回的channel会收到每次状态转换
func (c *Controller) Subscribe() chan State {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan State, 8)
	c.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe 取消订阅
// 不关闭channel：广播可能正在向它投递，订阅方自行停止读取即可
func (c *Controller) Unsubscribe(ch chan State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribers, ch)
}

// broadcast 向所有订阅者推送当前状态
func (c *Controller) broadcast() {
	c.mu.Lock()
	state := State{
		Phase:        c.phase,
		SubmissionID: c.submissionID,
		Outcome:      c.outcome,
	}
	channels := make([]chan State, 0, len(c.subscribers))
	for ch := range c.subscribers {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	for _, ch := range channels {
		select {
		case ch <- state:
			continue
		default:
		}
		if state.Phase != PhaseCompleted {
			// 中间状态允许丢弃，读取缓慢的订阅者只错过过程不错过结果
			c.logger.Warn("订阅者channel已满，丢弃状态通知")
			continue
		}
		// Completed必须送达每个订阅者，给读取缓慢的订阅者留出时间
		select {
		case ch <- state:
		case <-time.After(2 * time.Second):
			c.logger.Warn("订阅者长时间未读取，放弃投递完成通知")
		}
	}
}

// Submit 提交一次诊断，接受后返回本次提交的ID
// 正在提交时返回false（静默no-op）；接受后立即转入Submitting并异步执行流水线
// 流水线运行在控制器自己的上下文之下，提交一旦开始就不可取消
func (c *Controller) Submit(symptoms string, raw picker.RawImage) (string, bool) {
	c.mu.Lock()
	if c.phase == PhaseSubmitting {
		c.mu.Unlock()
		c.logger.Warn("已有提交在途，忽略重复提交")
		return "", false
	}
	id := uuid.New().String()
	c.phase = PhaseSubmitting
	c.submissionID = id
	c.outcome = nil // 丢弃上一次的结果
	c.mu.Unlock()

	c.logger.Info("接受诊断提交 %v", map[string]interface{}{
		"submission_id": id,
		"source_kind":   string(raw.SourceKind),
		"image_bytes":   len(raw.Bytes),
	})
	c.broadcast()

	go c.run(c.baseCtx, id, symptoms, raw)
	return id, true
}

// Reset 把Completed状态清回Idle，为下一次提交做准备
// 提交在途时不可重置
func (c *Controller) Reset() bool {
	c.mu.Lock()
	if c.phase == PhaseSubmitting {
		c.mu.Unlock()
		return false
	}
	c.phase = PhaseIdle
	c.submissionID = ""
	c.outcome = nil
	c.mu.Unlock()

	c.broadcast()
	return true
}

// run 执行完整流水线，保证恰好一次转入Completed（包括panic路径）
func (c *Controller) run(ctx context.Context, id string, symptoms string, raw picker.RawImage) {
	outcome := diagnosis.FailureOutcome(diagnosis.FailureUnknown, "提交未完成")

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(fmt.Sprintf("提交流程panic: %v", r))
			outcome = diagnosis.FailureOutcome(diagnosis.FailureUnknown,
				fmt.Sprintf("提交流程异常: %v", r))
		}
		c.complete(id, symptoms, outcome)
	}()

	outcome = c.pipeline(ctx, symptoms, raw)
}

// pipeline 顺序执行 转码 → 构造请求 → 发送 → 规范化
// 校验或解码失败立即短路，不触发任何网络调用
func (c *Controller) pipeline(ctx context.Context, symptoms string, raw picker.RawImage) diagnosis.DiagnosisOutcome {
	var compressed *image.CompressedImage

	if !raw.IsEmpty() {
		img, err := c.transcodeAsync(ctx, raw)
		if err != nil {
			var decodeErr *image.DecodeError
			if errors.As(err, &decodeErr) {
				return diagnosis.FailureOutcome(diagnosis.FailureDecode, decodeErr.Error())
			}
			return diagnosis.FailureOutcome(diagnosis.FailureUnknown,
				fmt.Sprintf("图片转码失败: %v", err))
		}
		compressed = img
	}

	request, err := diagnosis.BuildRequest(symptoms, compressed)
	if err != nil {
		var validationErr *diagnosis.ValidationError
		if errors.As(err, &validationErr) {
			return diagnosis.FailureOutcome(diagnosis.FailureValidation, validationErr.Message)
		}
		return diagnosis.FailureOutcome(diagnosis.FailureUnknown, err.Error())
	}

	clientOutcome := c.client.Send(ctx, request)
	return diagnosis.Normalize(clientOutcome)
}

// transcodeAsync 把CPU密集的转码派发到工作池并等待完成
func (c *Controller) transcodeAsync(ctx context.Context, raw picker.RawImage) (*image.CompressedImage, error) {
	t, _ := task.NewTask(ctx, task.TaskTypeTranscode, &TranscodeParams{Raw: raw.Bytes})
	callback := task.NewAwaitCallback()
	t.Callback = callback

	if err := c.tasks.SubmitTask(t); err != nil {
		return nil, fmt.Errorf("提交转码任务失败: %v", err)
	}

	select {
	case result := <-callback.Done():
		if result.Err != nil {
			return nil, result.Err
		}
		compressed, ok := result.Result.(*image.CompressedImage)
		if !ok {
			return nil, fmt.Errorf("转码结果类型错误: %T", result.Result)
		}
		return compressed, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// complete 把本次提交转入Completed并广播，随后写历史记录
func (c *Controller) complete(id string, symptoms string, outcome diagnosis.DiagnosisOutcome) {
	c.mu.Lock()
	if c.submissionID != id {
		// 状态已被重置，丢弃迟到的结果
		c.mu.Unlock()
		return
	}
	c.phase = PhaseCompleted
	c.outcome = &outcome
	c.mu.Unlock()

	c.logger.Info("诊断提交完成 %v", map[string]interface{}{
		"submission_id": id,
		"outcome_kind":  string(outcome.Kind),
	})
	c.broadcast()
	c.record(id, symptoms, outcome)
}

// record 写入提交历史，失败只记日志，绝不影响提交结果
func (c *Controller) record(id string, symptoms string, outcome diagnosis.DiagnosisOutcome) {
	if c.db == nil {
		return
	}

	record := &models.DiagnosisRecord{
		SubmissionID: id,
		Symptoms:     symptoms,
		OutcomeKind:  string(outcome.Kind),
	}

	switch outcome.Kind {
	case diagnosis.ResultSuccess:
		names := make([]string, 0, len(outcome.Report.TopDiseases))
		for _, d := range outcome.Report.TopDiseases {
			names = append(names, d.Name)
		}
		if data, err := json.Marshal(names); err == nil {
			record.TopDiseases = data
		}
		record.Urgency = outcome.Report.Urgency
		record.Detail = outcome.Report.Explanation
	case diagnosis.ResultPlainMessage:
		record.Detail = outcome.Message
	case diagnosis.ResultFailure:
		record.FailureKind = string(outcome.Failure.Kind)
		record.Detail = outcome.Failure.Detail
	}

	if err := models.SaveDiagnosisRecord(c.db, record); err != nil {
		c.logger.Warn("写入提交历史失败 %v", map[string]interface{}{
			"submission_id": id,
			"error":         err.Error(),
		})
	}
}
