package image

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"afiyahmed-client-go/src/configs"
	"afiyahmed-client-go/src/core/utils"
)

func newTestLogger(t *testing.T) *utils.Logger {
	t.Helper()
	cfg := &configs.Config{}
	cfg.Log.LogDir = t.TempDir()
	cfg.Log.LogFile = "test.log"
	cfg.Log.LogLevel = "info"
	logger, err := utils.NewLogger(cfg)
	if err != nil {
		t.Fatalf("创建测试日志记录器失败: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func newTestTranscoder(t *testing.T) *Transcoder {
	t.Helper()
	cfg := &configs.Config{}
	cfg.ApplyDefaults()
	return NewTranscoder(&cfg.Image, newTestLogger(t))
}

// makePNG 生成指定尺寸的测试图片
func makePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("生成测试PNG失败: %v", err)
	}
	return buf.Bytes()
}

func TestTranscode_FixedWidthAndAspectRatio(t *testing.T) {
	tests := []struct {
		name       string
		srcW, srcH int
		wantH      int
	}{
		{name: "横图2:1", srcW: 800, srcH: 400, wantH: 200},
		{name: "横图4:3", srcW: 800, srcH: 600, wantH: 300},
		{name: "竖图", srcW: 400, srcH: 800, wantH: 800},
		{name: "方图", srcW: 640, srcH: 640, wantH: 400},
		{name: "小于目标宽度时放大", srcW: 200, srcH: 100, wantH: 200},
	}

	transcoder := newTestTranscoder(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed, err := transcoder.Transcode(context.Background(), makePNG(t, tt.srcW, tt.srcH))
			if err != nil {
				t.Fatalf("Transcode失败: %v", err)
			}
			if compressed.Width != 400 {
				t.Errorf("输出宽度 = %d, want 400", compressed.Width)
			}
			if compressed.Height != tt.wantH {
				t.Errorf("输出高度 = %d, want %d", compressed.Height, tt.wantH)
			}

			// 输出必须是可解码的JPEG，实际尺寸与声明一致
			decoded, err := jpeg.Decode(bytes.NewReader(compressed.Bytes))
			if err != nil {
				t.Fatalf("输出不是合法JPEG: %v", err)
			}
			bounds := decoded.Bounds()
			if bounds.Dx() != compressed.Width || bounds.Dy() != compressed.Height {
				t.Errorf("JPEG实际尺寸 %dx%d 与声明 %dx%d 不一致",
					bounds.Dx(), bounds.Dy(), compressed.Width, compressed.Height)
			}
		})
	}
}

func TestTranscode_DecodeError(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "空数据", data: nil},
		{name: "随机字节", data: []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05}},
		{name: "文本内容", data: []byte("this is not an image at all")},
		{name: "截断的PNG头", data: []byte{0x89, 0x50, 0x4E, 0x47}},
	}

	transcoder := newTestTranscoder(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := transcoder.Transcode(context.Background(), tt.data)
			if err == nil {
				t.Fatal("无法解码的输入应该返回错误")
			}
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Errorf("期望*DecodeError，实际: %T (%v)", err, err)
			}
		})
	}
}

func TestTranscode_PixelLimit(t *testing.T) {
	cfg := &configs.Config{}
	cfg.ApplyDefaults()
	cfg.Image.MaxPixels = 100 * 100
	transcoder := NewTranscoder(&cfg.Image, newTestLogger(t))

	_, err := transcoder.Transcode(context.Background(), makePNG(t, 200, 200))
	if err == nil {
		t.Fatal("超过像素限制的图片应该被拒绝")
	}
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Errorf("期望*DecodeError，实际: %T", err)
	}
}

func TestTranscode_Metrics(t *testing.T) {
	transcoder := newTestTranscoder(t)

	transcoder.Transcode(context.Background(), makePNG(t, 100, 100))
	transcoder.Transcode(context.Background(), []byte("garbage"))

	metrics := transcoder.GetMetrics()
	if metrics.TotalProcessed != 2 {
		t.Errorf("TotalProcessed = %d, want 2", metrics.TotalProcessed)
	}
	if metrics.DecodeFailures != 1 {
		t.Errorf("DecodeFailures = %d, want 1", metrics.DecodeFailures)
	}
}
