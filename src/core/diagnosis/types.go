package diagnosis

import "strings"

// DiagnosisRequest 已通过验证的诊断请求，只由RequestBuilder构造
// 不变量：Symptoms非空且已去除首尾空白，ImageBytes非空
type DiagnosisRequest struct {
	Symptoms   string
	ImageBytes []byte
	WireBody   []byte // 序列化后的JSON请求体 {"symptoms":..., "image_base64":...}
}

// ValidationKind 校验失败类型
type ValidationKind string

const (
	ValidationMissingImage  ValidationKind = "missing_image"
	ValidationEmptySymptoms ValidationKind = "empty_symptoms"
)

// ValidationError 请求校验失败，不会触发任何网络调用
type ValidationError struct {
	Kind    ValidationKind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// OutcomeKind 传输层结果类型
type OutcomeKind string

const (
	OutcomeHTTPSuccess         OutcomeKind = "http_success"
	OutcomeHTTPError           OutcomeKind = "http_error"
	OutcomeTimedOut            OutcomeKind = "timed_out"
	OutcomeConnectivityFailure OutcomeKind = "connectivity_failure"
	OutcomeUnknownFailure      OutcomeKind = "unknown_failure"
)

// ClientOutcome 单次HTTP调用的分类结果
// 调用方根据数据分支，不依赖异常控制流
type ClientOutcome struct {
	Kind       OutcomeKind
	StatusCode int    // HTTPSuccess/HTTPError时有效
	Body       []byte // HTTPSuccess/HTTPError时有效
	Detail     string // 传输失败时的人类可读描述
}

// FailureKind 诊断失败的错误分类
type FailureKind string

const (
	FailureValidation     FailureKind = "validation_failed"
	FailureDecode         FailureKind = "decode_error"
	FailureTimeout        FailureKind = "timeout"
	FailureNoConnectivity FailureKind = "no_connectivity"
	FailureServerError    FailureKind = "server_error"
	FailureServerReported FailureKind = "server_reported_error"
	FailureMalformed      FailureKind = "malformed_response"
	FailureUnknown        FailureKind = "unknown"
)

// ResultKind 规范化结果的三种形态
type ResultKind string

const (
	ResultSuccess      ResultKind = "success"
	ResultPlainMessage ResultKind = "plain_message"
	ResultFailure      ResultKind = "failure"
)

// Disease 候选疾病及其置信度
type Disease struct {
	Name              string  `json:"name"`
	ConfidencePercent float64 `json:"confidence_percent"`
}

// Report 结构化诊断报告，缺失字段一律填充"N/A"哨兵值，展示层无需判空
type Report struct {
	TopDiseases  []Disease    `json:"top_diseases"`
	Explanation  string       `json:"explanation"`
	Urgency      string       `json:"urgency"`       // 服务端原始紧急程度文本（自由格式）
	UrgencyLevel UrgencyLevel `json:"urgency_level"` // 客户端派生的展示分类
	Steps        []string     `json:"steps"`
	Disclaimer   string       `json:"disclaimer"`
}

// Failure 失败结果
type Failure struct {
	Kind   FailureKind `json:"kind"`
	Detail string      `json:"detail"`
}

// DiagnosisOutcome 规范化后的诊断结果，三种形态互斥
type DiagnosisOutcome struct {
	Kind    ResultKind `json:"kind"`
	Report  *Report    `json:"report,omitempty"`  // Kind == ResultSuccess
	Message string     `json:"message,omitempty"` // Kind == ResultPlainMessage
	Failure *Failure   `json:"failure,omitempty"` // Kind == ResultFailure
}

// SuccessOutcome 构造成功结果
func SuccessOutcome(report *Report) DiagnosisOutcome {
	return DiagnosisOutcome{Kind: ResultSuccess, Report: report}
}

// PlainMessageOutcome 构造纯文本结果（服务端返回了字符串而非结构化数据）
func PlainMessageOutcome(text string) DiagnosisOutcome {
	return DiagnosisOutcome{Kind: ResultPlainMessage, Message: text}
}

// FailureOutcome 构造失败结果
func FailureOutcome(kind FailureKind, detail string) DiagnosisOutcome {
	return DiagnosisOutcome{Kind: ResultFailure, Failure: &Failure{Kind: kind, Detail: detail}}
}

// UrgencyLevel 紧急程度展示分类
type UrgencyLevel string

const (
	UrgencyHigh     UrgencyLevel = "High"
	UrgencyModerate UrgencyLevel = "Moderate"
	UrgencyLow      UrgencyLevel = "Low"
	UrgencyUnknown  UrgencyLevel = "Unknown"
)

// ClassifyUrgency 从服务端自由格式的紧急程度文本派生展示分类
// 大小写不敏感的子串匹配，按 High > Moderate > Low 优先级，未命中为 Unknown
func ClassifyUrgency(raw string) UrgencyLevel {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "high"):
		return UrgencyHigh
	case strings.Contains(lower, "moderate"), strings.Contains(lower, "medium"):
		return UrgencyModerate
	case strings.Contains(lower, "low"):
		return UrgencyLow
	default:
		return UrgencyUnknown
	}
}
