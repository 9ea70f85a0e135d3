package picker

import (
	"fmt"
	"os"
)

// SourceKind 图片来源类型
type SourceKind string

const (
	SourceFilePath SourceKind = "file_path" // 来自文件选择器的路径
	SourceInMemory SourceKind = "in_memory" // 来自相机/上传的内存字节
)

// RawImage 用户选择的原始图片，转码后即废弃，不再保留
type RawImage struct {
	Bytes      []byte
	SourceKind SourceKind
}

// FromFile 从文件路径获取图片，读取完成后不保留文件句柄
func FromFile(path string) (RawImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RawImage{}, fmt.Errorf("读取图片文件失败: %v", err)
	}
	if len(data) == 0 {
		return RawImage{}, fmt.Errorf("图片文件为空: %s", path)
	}
	return RawImage{Bytes: data, SourceKind: SourceFilePath}, nil
}

// FromMemory 从内存字节获取图片
func FromMemory(data []byte) RawImage {
	return RawImage{Bytes: data, SourceKind: SourceInMemory}
}

// IsEmpty 判断是否没有图片数据
func (r RawImage) IsEmpty() bool {
	return len(r.Bytes) == 0
}
