package diagnosis

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"afiyahmed-client-go/src/core/image"
)

func testImage() *image.CompressedImage {
	return &image.CompressedImage{
		Bytes:  []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02},
		Width:  400,
		Height: 300,
	}
}

func TestBuildRequest(t *testing.T) {
	tests := []struct {
		name     string
		symptoms string
		img      *image.CompressedImage
		wantKind ValidationKind
	}{
		{
			name:     "缺少图片",
			symptoms: "红疹瘙痒",
			img:      nil,
			wantKind: ValidationMissingImage,
		},
		{
			name:     "图片字节为空",
			symptoms: "红疹瘙痒",
			img:      &image.CompressedImage{},
			wantKind: ValidationMissingImage,
		},
		{
			name:     "症状为空",
			symptoms: "",
			img:      testImage(),
			wantKind: ValidationEmptySymptoms,
		},
		{
			name:     "症状只有空白",
			symptoms: "   \t\n ",
			img:      testImage(),
			wantKind: ValidationEmptySymptoms,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildRequest(tt.symptoms, tt.img)
			if err == nil {
				t.Fatal("BuildRequest应该返回校验错误")
			}
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("期望*ValidationError，实际: %T", err)
			}
			if validationErr.Kind != tt.wantKind {
				t.Errorf("校验错误类型 = %q, want %q", validationErr.Kind, tt.wantKind)
			}
		})
	}
}

func TestBuildRequest_Success(t *testing.T) {
	img := testImage()
	request, err := BuildRequest(" ok ", img)
	if err != nil {
		t.Fatalf("BuildRequest失败: %v", err)
	}

	if request.Symptoms != "ok" {
		t.Errorf("症状应去除首尾空白: %q, want %q", request.Symptoms, "ok")
	}

	var payload map[string]string
	if err := json.Unmarshal(request.WireBody, &payload); err != nil {
		t.Fatalf("请求体不是合法JSON: %v", err)
	}
	if payload["symptoms"] != "ok" {
		t.Errorf("symptoms字段 = %q, want %q", payload["symptoms"], "ok")
	}
	if payload["image_base64"] != base64.StdEncoding.EncodeToString(img.Bytes) {
		t.Errorf("image_base64字段与图片字节的base64编码不一致")
	}
	if len(payload) != 2 {
		t.Errorf("请求体应该只有2个字段，实际%d个", len(payload))
	}
}
