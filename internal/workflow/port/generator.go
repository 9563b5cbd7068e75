// Package port 定义工作流层对外部能力的最小依赖
package port

import (
	"context"
	"math/rand/v2"

	"github.com/cloudwego/eino/components/model"
)

// ChatModelFactory 按提供商名称获取 eino ChatModel
type ChatModelFactory interface {
	Get(ctx context.Context, name string) (model.BaseChatModel, error)
}

// Sampling 确定性参数
type Sampling struct {
	Temperature float32
	TopP        float32
	TopK        int
	// Seed 为 0 表示每次调用随机取种子
	Seed int64
}

// MaxRandomSeed 随机种子上界
const MaxRandomSeed = 1_000_000

// Resolve 返回种子已确定的采样参数
func (s Sampling) Resolve() Sampling {
	if s.Seed == 0 {
		s.Seed = rand.Int64N(MaxRandomSeed) + 1
	}
	return s
}

// Generator 文本生成能力：发送提示词，返回文本
type Generator interface {
	Generate(ctx context.Context, prompt, systemRole string, s Sampling) (string, error)
}
