package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/John-Robertt/reelrag/internal/infra/apix"
)

func newAPI(t *testing.T, url string) *apix.Client {
	t.Helper()
	c, err := apix.New(apix.Config{BaseURL: url, APIKey: "secret", MaxRetries: -1})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	return c
}

func TestChat_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("路径不符：%s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("请求体无效：%v", err)
		}
		if req.Model != "llama" || req.MaxTokens != DefaultMaxTokens || req.Temperature != DefaultTemperature {
			t.Errorf("采样参数不符：%+v", req)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "q?" {
			t.Errorf("消息不符：%+v", req.Messages)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  an answer \n"}}]}`))
	}))
	defer srv.Close()

	c, err := NewChat(ProviderGroq, newAPI(t, srv.URL), ChatOptions{Model: "llama", Temperature: DefaultTemperature})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	got, err := c.Complete(context.Background(), "be brief", "q?")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if got != "an answer" {
		t.Fatalf("期望去掉首尾空白，实际 %q", got)
	}
	if c.Name() != "groq:llama" {
		t.Fatalf("Name 不符：%q", c.Name())
	}
}

func TestChat_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c, _ := NewChat(ProviderOpenAI, newAPI(t, srv.URL), ChatOptions{Model: "gpt"})
	if _, err := c.Complete(context.Background(), "", "q"); !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("期望 ErrEmptyCompletion，实际 %v", err)
	}
}

func TestChat_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c, _ := NewChat(ProviderOpenAI, newAPI(t, srv.URL), ChatOptions{Model: "gpt"})
	_, err := c.Complete(context.Background(), "", "q")
	var ae *apix.APIError
	if !errors.As(err, &ae) || ae.StatusCode != http.StatusBadRequest {
		t.Fatalf("期望 400 APIError，实际 %v", err)
	}
}

func TestNewChat_RequiresModel(t *testing.T) {
	c, _ := apix.New(apix.Config{BaseURL: "http://x"})
	if _, err := NewChat(ProviderGroq, c, ChatOptions{}); err == nil {
		t.Fatalf("期望错误")
	}
}
