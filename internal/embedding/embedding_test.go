package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/John-Robertt/reelrag/internal/infra/apix"
)

func TestHashing_DeterministicAndNormalized(t *testing.T) {
	h, err := NewHashing(64)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	ctx := context.Background()
	a, _ := h.Embed(ctx, "Mind-bending heist with stunning visuals")
	b, _ := h.Embed(ctx, "Mind-bending heist with stunning visuals")
	if len(a) != 64 {
		t.Fatalf("期望 64 维，实际 %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("相同文本应得到相同向量")
		}
		if a[i] < 0 {
			t.Fatalf("分量不应为负：%v", a[i])
		}
	}
	var sum float64
	for _, x := range a {
		sum += x * x
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("期望单位向量，实际范数平方 %v", sum)
	}
}

func TestHashing_SimilarTextScoresHigher(t *testing.T) {
	h, _ := NewHashing(0)
	if h.Dimension() != DefaultDimension {
		t.Fatalf("期望默认维度 %d，实际 %d", DefaultDimension, h.Dimension())
	}
	ctx := context.Background()
	q, _ := h.Embed(ctx, "how were the visual effects")
	near, _ := h.Embed(ctx, "The visual effects were groundbreaking and the score was loud")
	far, _ := h.Embed(ctx, "A quiet romance set in rural Ireland")
	sn, sf := Cosine(q, near), Cosine(q, far)
	if sn <= sf {
		t.Fatalf("期望相关文本得分更高：near=%v far=%v", sn, sf)
	}
	if sn < 0 || sn > 1 || sf < 0 || sf > 1 {
		t.Fatalf("得分应在 [0,1]：near=%v far=%v", sn, sf)
	}
}

func TestHashing_StopwordsOnlyIsZeroVector(t *testing.T) {
	h, _ := NewHashing(16)
	v, err := h.Embed(context.Background(), "the a of and I")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	for _, x := range v {
		if x != 0 {
			t.Fatalf("期望零向量，实际 %v", v)
		}
	}
	if Cosine(v, v) != 0 {
		t.Fatalf("零向量的相似度应为 0")
	}
}

func TestNewHashing_RejectsNegative(t *testing.T) {
	if _, err := NewHashing(-1); err == nil {
		t.Fatalf("期望错误")
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Nolan's INCEPTION (2010) is a dream-heist!")
	want := []string{"nolan", "inception", "2010", "dream", "heist"}
	if len(got) != len(want) {
		t.Fatalf("期望 %v，实际 %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("期望 %v，实际 %v", want, got)
		}
	}
}

func newAPI(t *testing.T, url string) *apix.Client {
	t.Helper()
	c, err := apix.New(apix.Config{BaseURL: url, MaxRetries: -1, MinBackoff: time.Millisecond})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	return c
}

func TestOpenAI_ParsesOpenAIAndOllamaShapes(t *testing.T) {
	shapes := []string{
		`{"data":[{"embedding":[0.1,0.2,0.3]}]}`,
		`{"embedding":[0.4,0.5,0.6]}`,
	}
	i := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("路径不符：%s", r.URL.Path)
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("请求体无效：%v", err)
		}
		if req.Model != "m" || req.Input == "" {
			t.Errorf("请求字段不符：%+v", req)
		}
		_, _ = w.Write([]byte(shapes[i%len(shapes)]))
		i++
	}))
	defer srv.Close()

	e, err := NewOpenAI(newAPI(t, srv.URL), "m", 0)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	ctx := context.Background()
	v, err := e.Embed(ctx, "hello")
	if err != nil || len(v) != 3 || v[0] != 0.1 {
		t.Fatalf("OpenAI 形态解析失败：%v %v", v, err)
	}
	if e.Dimension() != 3 {
		t.Fatalf("期望维度 3，实际 %d", e.Dimension())
	}
	v, err = e.Embed(ctx, "world")
	if err != nil || v[0] != 0.4 {
		t.Fatalf("Ollama 形态解析失败：%v %v", v, err)
	}
}

func TestOpenAI_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1,2]}]}`))
	}))
	defer srv.Close()

	e, _ := NewOpenAI(newAPI(t, srv.URL), "", 3)
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Fatalf("期望维度不一致错误")
	}
}

func TestOpenAI_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	e, _ := NewOpenAI(newAPI(t, srv.URL), "", 0)
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Fatalf("期望错误")
	}
}
