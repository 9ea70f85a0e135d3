package diagnosis

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"afiyahmed-client-go/src/core/image"
)

// wirePayload 诊断服务的请求体结构
type wirePayload struct {
	Symptoms    string `json:"symptoms"`
	ImageBase64 string `json:"image_base64"`
}

// BuildRequest 校验输入并构造诊断请求
// 纯函数：校验症状文本非空、图片存在，base64编码压缩图片并序列化请求体
// 失败时返回 *ValidationError
func BuildRequest(symptoms string, img *image.CompressedImage) (*DiagnosisRequest, error) {
	if img == nil || len(img.Bytes) == 0 {
		return nil, &ValidationError{
			Kind:    ValidationMissingImage,
			Message: "请先选择一张图片",
		}
	}

	trimmed := strings.TrimSpace(symptoms)
	if trimmed == "" {
		return nil, &ValidationError{
			Kind:    ValidationEmptySymptoms,
			Message: "请描述您的症状",
		}
	}

	payload := wirePayload{
		Symptoms:    trimmed,
		ImageBase64: base64.StdEncoding.EncodeToString(img.Bytes),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("请求序列化失败: %v", err)
	}

	return &DiagnosisRequest{
		Symptoms:   trimmed,
		ImageBytes: img.Bytes,
		WireBody:   body,
	}, nil
}
