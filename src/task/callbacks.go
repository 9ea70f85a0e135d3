package task

// AwaitResult 同步等待的任务结果
type AwaitResult struct {
	Result interface{}
	Err    error
}

// AwaitCallback 把回调转成可等待的channel，供提交流程在工作池外等待转码完成
type AwaitCallback struct {
	done chan AwaitResult
}

// NewAwaitCallback 创建可等待回调
func NewAwaitCallback() *AwaitCallback {
	return &AwaitCallback{
		done: make(chan AwaitResult, 1),
	}
}

func (cb *AwaitCallback) OnComplete(result interface{}) {
	cb.done <- AwaitResult{Result: result}
}

func (cb *AwaitCallback) OnError(err error) {
	cb.done <- AwaitResult{Err: err}
}

// Done 返回结果channel，任务结束时恰好写入一次
func (cb *AwaitCallback) Done() <-chan AwaitResult {
	return cb.done
}
