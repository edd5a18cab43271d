// core/filters.go
package core

import (
	"os"
	"path/filepath"
	"strings"
)

// FilterConfig 定义扫描阶段可用的排除条件
type FilterConfig struct {
	// 路径排除 (前缀匹配)
	ExcludePaths []string `json:"exclude_paths,omitempty"`

	// 名称排除 (Glob 模式匹配), e.g. "*.tmp", ".DS_Store"
	ExcludeNames []string `json:"exclude_names,omitempty"`

	// 大小上限 (bytes)。0 表示无上限。
	MaxSize int64 `json:"max_size,omitempty"`
}

// ShouldInclude 判断一个文件/目录是否应该进入备份
func (fc *FilterConfig) ShouldInclude(path string, info os.FileInfo) bool {
	// 规则: 任何一个排除规则匹配，则立即排除。
	for _, excludePath := range fc.ExcludePaths {
		if strings.HasPrefix(path, excludePath) {
			return false
		}
	}

	name := info.Name()
	for _, excludeName := range fc.ExcludeNames {
		matched, err := filepath.Match(excludeName, name)
		if err == nil && matched {
			return false
		}
	}

	// 大小上限仅对文件生效
	if !info.IsDir() && fc.MaxSize > 0 && info.Size() > fc.MaxSize {
		return false
	}

	return true
}
