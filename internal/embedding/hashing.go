package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDimension 是 Hashing 的默认桶数。
const DefaultDimension = 512

// Hashing 是无需语料准备的特征哈希词袋模型。
//
// 约束：
// - 所有分量非负，因此两个向量的余弦相似度落在 [0,1]
// - 词频做 1+ln(tf) 的次线性缩放，输出已 L2 归一化
// - 停用词与单字符 token 被忽略；全部被忽略时返回零向量
type Hashing struct {
	dim int
}

// NewHashing 返回 dim 维的哈希嵌入器；dim<=0 时使用 DefaultDimension。
func NewHashing(dim int) (*Hashing, error) {
	if dim < 0 {
		return nil, fmt.Errorf("embedding: 维度不能为负：%d", dim)
	}
	if dim == 0 {
		dim = DefaultDimension
	}
	return &Hashing{dim: dim}, nil
}

func (h *Hashing) Name() string   { return "hashing" }
func (h *Hashing) Dimension() int { return h.dim }

func (h *Hashing) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tf := make(map[uint32]float64)
	for _, tok := range Tokenize(text) {
		tf[bucket(tok, h.dim)]++
	}
	v := make([]float64, h.dim)
	for i, c := range tf {
		v[i] = 1 + math.Log(c)
	}
	return Normalize(v), nil
}

func bucket(tok string, dim int) uint32 {
	f := fnv.New32a()
	_, _ = f.Write([]byte(tok))
	return f.Sum32() % uint32(dim)
}

// Tokenize 把文本切成小写 token，去掉停用词与单字符 token。
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		out = append(out, f)
	}
	return out
}

var stopwords = func() map[string]struct{} {
	words := strings.Fields(`
about above after again against all also am an and any are as at be because been before being
below between both but by can could did do does doing down during each few for from further
had has have having he her here hers herself him himself his how if in into is it its itself
just me more most my myself no nor not now of off on once only or other our ours ourselves out
over own same she should so some such than that the their theirs them themselves then there
these they this those through to too under until up very was we were what when where which
while who whom why will with would you your yours yourself yourselves`)
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
