package diagnosis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// 哨兵值：结构化报告里缺失的字段统一填充，展示层永远拿不到空值
const sentinelNA = "N/A"

// fieldAliases 服务端字段别名表
// 历史版本的服务端对同一逻辑字段使用过不同命名，按表内顺序优先匹配
// 容错规则集中在这一张表里，不要在解析逻辑里散落字段名
var fieldAliases = map[string][]string{
	"diseases":    {"top_3_possible_diseases", "top_diseases", "possible_diseases"},
	"name":        {"name", "disease"},
	"confidence":  {"confidence", "confidence_percentage", "confidence_percent"},
	"explanation": {"explanation", "reasoning"},
	"urgency":     {"urgency", "urgency_level"},
	"steps":       {"recommended_next_steps", "next_steps", "recommendations"},
	"disclaimer":  {"disclaimer", "notice"},
}

// lookupAlias 按别名表的优先级顺序查找字段
func lookupAlias(obj map[string]interface{}, field string) (interface{}, bool) {
	for _, key := range fieldAliases[field] {
		if value, ok := obj[key]; ok {
			return value, true
		}
	}
	return nil, false
}

// Normalize 把传输层结果规范化为唯一的内部结果模型
// 服务端响应体可能出现三种形态：结构化prediction对象、纯字符串prediction、error对象
func Normalize(outcome ClientOutcome) DiagnosisOutcome {
	switch outcome.Kind {
	case OutcomeHTTPError:
		return FailureOutcome(FailureServerError,
			fmt.Sprintf("%d: %s", outcome.StatusCode, string(outcome.Body)))
	case OutcomeTimedOut:
		return FailureOutcome(FailureTimeout, detailOr(outcome.Detail, "请求超时"))
	case OutcomeConnectivityFailure:
		return FailureOutcome(FailureNoConnectivity, detailOr(outcome.Detail, "网络连接失败"))
	case OutcomeUnknownFailure:
		return FailureOutcome(FailureUnknown, detailOr(outcome.Detail, "未知错误"))
	case OutcomeHTTPSuccess:
		return normalizeBody(outcome.Body)
	default:
		return FailureOutcome(FailureUnknown, fmt.Sprintf("无法识别的传输结果: %s", outcome.Kind))
	}
}

// normalizeBody 解析200响应体
func normalizeBody(body []byte) DiagnosisOutcome {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return FailureOutcome(FailureMalformed, fmt.Sprintf("响应JSON解析失败: %v", err))
	}

	prediction, hasPrediction := top["prediction"]
	if !hasPrediction {
		if errValue, hasError := top["error"]; hasError {
			return FailureOutcome(FailureServerReported, rawToString(errValue))
		}
		return FailureOutcome(FailureMalformed, "响应缺少prediction字段")
	}

	// JSON null反序列化到string不报错也不赋值，必须先单独排除
	if bytes.Equal(bytes.TrimSpace(prediction), []byte("null")) {
		return FailureOutcome(FailureMalformed, "prediction字段为null")
	}

	// prediction为字符串：服务端返回了纯文本回答
	var text string
	if err := json.Unmarshal(prediction, &text); err == nil {
		return PlainMessageOutcome(text)
	}

	// prediction为对象：结构化报告
	var structured map[string]interface{}
	if err := json.Unmarshal(prediction, &structured); err == nil {
		return SuccessOutcome(buildReport(structured))
	}

	return FailureOutcome(FailureMalformed, "prediction字段形态不符合预期")
}

// buildReport 从结构化prediction对象提取报告，缺失字段填充哨兵值
func buildReport(prediction map[string]interface{}) *Report {
	report := &Report{
		TopDiseases: []Disease{},
		Explanation: sentinelNA,
		Urgency:     sentinelNA,
		Disclaimer:  sentinelNA,
		Steps:       []string{sentinelNA},
	}

	if value, ok := lookupAlias(prediction, "diseases"); ok {
		if list, ok := value.([]interface{}); ok {
			for _, item := range list {
				entry, ok := item.(map[string]interface{})
				if !ok {
					continue
				}
				disease := Disease{Name: sentinelNA}
				if name, ok := lookupAlias(entry, "name"); ok {
					disease.Name = stringify(name)
				}
				if conf, ok := lookupAlias(entry, "confidence"); ok {
					disease.ConfidencePercent = coerceConfidence(conf)
				}
				report.TopDiseases = append(report.TopDiseases, disease)
			}
		}
	}

	if value, ok := lookupAlias(prediction, "explanation"); ok {
		report.Explanation = stringify(value)
	}
	if value, ok := lookupAlias(prediction, "urgency"); ok {
		report.Urgency = stringify(value)
	}
	if value, ok := lookupAlias(prediction, "disclaimer"); ok {
		report.Disclaimer = stringify(value)
	}
	if value, ok := lookupAlias(prediction, "steps"); ok {
		if list, ok := value.([]interface{}); ok {
			steps := make([]string, 0, len(list))
			for _, item := range list {
				steps = append(steps, stringify(item))
			}
			if len(steps) > 0 {
				report.Steps = steps
			}
		}
	}

	report.UrgencyLevel = ClassifyUrgency(report.Urgency)
	return report
}

// coerceConfidence 把置信度容错转换为0-100浮点数
// 服务端可能返回 "72%" / "72" / 72 / 72.5，无法解析时取0而不是让整个响应失败
func coerceConfidence(value interface{}) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case string:
		trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "%"))
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

// stringify 把任意JSON值转成展示字符串
func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return sentinelNA
	default:
		return fmt.Sprintf("%v", v)
	}
}

// rawToString 把原始JSON值转成字符串，字符串值去掉引号
func rawToString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func detailOr(detail, fallback string) string {
	if detail != "" {
		return detail
	}
	return fallback
}
