package image

// CompressedImage 转码后的压缩图片，仅在单次提交期间存在
type CompressedImage struct {
	Bytes  []byte // JPEG编码数据
	Width  int    // 固定为目标宽度400
	Height int    // 按比例缩放后的高度
}

// DecodeError 图片字节无法解码为支持的光栅格式
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// TranscodeMetrics 转码统计信息
type TranscodeMetrics struct {
	TotalProcessed int64 // 总处理数量
	DecodeFailures int64 // 解码失败次数
	LimitRejects   int64 // 超限拒绝次数
}
