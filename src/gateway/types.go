package gateway

import (
	"afiyahmed-client-go/src/core/diagnosis"
	"afiyahmed-client-go/src/core/lifecycle"
)

// DiagnoseResponse 提交接口的标准响应结构
type DiagnoseResponse struct {
	Success bool                        `json:"success"`
	Outcome *diagnosis.DiagnosisOutcome `json:"outcome,omitempty"` // 提交完成后的规范化结果
	Message string                      `json:"message,omitempty"` // 错误信息（失败时）
}

// StateResponse 状态查询响应
type StateResponse struct {
	State lifecycle.State `json:"state"`
}
