// Package embedding 把文本转换为向量。
package embedding

import (
	"context"
	"math"
)

// Embedder 把一段文本转换为固定维度的向量。
//
// 约束：
// - 同一实例对相同文本返回相同向量
// - Dimension 在第一次 Embed 之前可能为 0（远端模型由返回值决定维度）
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Normalize 原地做 L2 归一化；零向量保持不变。
func Normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}
	n := math.Sqrt(sum)
	for i := range v {
		v[i] /= n
	}
	return v
}

// Cosine 返回两个向量的余弦相似度；长度不同或任一为零向量时返回 0。
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
