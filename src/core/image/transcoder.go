package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
	"sync/atomic"

	"afiyahmed-client-go/src/configs"
	"afiyahmed-client-go/src/core/utils"

	_ "image/gif"  // 注册GIF解码器
	_ "image/png"  // 注册PNG解码器

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // 注册WEBP解码器
)

// Transcoder 图片转码器：解码任意光栅图片，缩放到固定宽度后重编码为JPEG
// 转码是CPU密集型操作，调用方必须通过任务池执行，不要在交互协程内直接调用
type Transcoder struct {
	config  *configs.ImageConfig
	logger  *utils.Logger
	metrics *TranscodeMetrics
}

// NewTranscoder 创建新的图片转码器
func NewTranscoder(config *configs.ImageConfig, logger *utils.Logger) *Transcoder {
	return &Transcoder{
		config:  config,
		logger:  logger,
		metrics: &TranscodeMetrics{},
	}
}

// Transcode 解码原始图片字节并重编码为固定宽度的JPEG
// 字节无法解码或超出安全限制时返回 *DecodeError
func (t *Transcoder) Transcode(ctx context.Context, raw []byte) (*CompressedImage, error) {
	atomic.AddInt64(&t.metrics.TotalProcessed, 1)

	if len(raw) == 0 {
		atomic.AddInt64(&t.metrics.DecodeFailures, 1)
		return nil, &DecodeError{Reason: "图片数据为空"}
	}

	// 先用DecodeConfig做轻量检查，避免解码超大图片耗尽内存
	if err := t.checkLimits(raw); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	src, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		atomic.AddInt64(&t.metrics.DecodeFailures, 1)
		return nil, &DecodeError{Reason: "图片解码失败", Err: err}
	}

	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW <= 0 || srcH <= 0 {
		atomic.AddInt64(&t.metrics.DecodeFailures, 1)
		return nil, &DecodeError{Reason: fmt.Sprintf("图片尺寸无效: %dx%d", srcW, srcH)}
	}

	// 固定宽度，高度按原始比例缩放（四舍五入）
	dstW := t.config.TargetWidth
	dstH := int(float64(srcH)*float64(dstW)/float64(srcW) + 0.5)
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: t.config.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("JPEG编码失败: %v", err)
	}

	t.logger.Debug("图片转码完成 %v", map[string]interface{}{
		"source_format": format,
		"source_size":   fmt.Sprintf("%dx%d", srcW, srcH),
		"target_size":   fmt.Sprintf("%dx%d", dstW, dstH),
		"output_bytes":  buf.Len(),
	})

	return &CompressedImage{
		Bytes:  buf.Bytes(),
		Width:  dstW,
		Height: dstH,
	}, nil
}

// checkLimits 解码前的安全限制检查
func (t *Transcoder) checkLimits(raw []byte) error {
	if int64(len(raw)) > t.config.MaxFileSize {
		atomic.AddInt64(&t.metrics.LimitRejects, 1)
		t.logger.Warn("检测到超大文件", map[string]interface{}{
			"size":     len(raw),
			"max_size": t.config.MaxFileSize,
		})
		return &DecodeError{Reason: fmt.Sprintf("文件大小超限: %d bytes，最大允许: %d bytes",
			len(raw), t.config.MaxFileSize)}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		atomic.AddInt64(&t.metrics.DecodeFailures, 1)
		return &DecodeError{Reason: "图片解码失败", Err: err}
	}

	if format != "" && !t.isFormatAllowed(format) {
		atomic.AddInt64(&t.metrics.LimitRejects, 1)
		return &DecodeError{Reason: fmt.Sprintf("不支持的格式: %s", format)}
	}

	totalPixels := int64(cfg.Width) * int64(cfg.Height)
	if totalPixels > t.config.MaxPixels {
		atomic.AddInt64(&t.metrics.LimitRejects, 1)
		return &DecodeError{Reason: fmt.Sprintf("像素总数超限: %d，最大允许: %d",
			totalPixels, t.config.MaxPixels)}
	}

	return nil
}

// isFormatAllowed 检查格式是否被允许
func (t *Transcoder) isFormatAllowed(format string) bool {
	formatLower := strings.ToLower(format)
	for _, allowed := range t.config.AllowedFormats {
		if strings.ToLower(allowed) == formatLower {
			return true
		}
	}
	return false
}

// GetMetrics 获取转码统计信息
func (t *Transcoder) GetMetrics() TranscodeMetrics {
	return TranscodeMetrics{
		TotalProcessed: atomic.LoadInt64(&t.metrics.TotalProcessed),
		DecodeFailures: atomic.LoadInt64(&t.metrics.DecodeFailures),
		LimitRejects:   atomic.LoadInt64(&t.metrics.LimitRejects),
	}
}
