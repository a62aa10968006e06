package genai

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type stubCompletions struct {
	content string
	err     error
}

func (s *stubCompletions) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.content}},
		},
	}, nil
}

func TestNormalizeIntent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"add_client", IntentAddClient},
		{" Add_Client \n", IntentAddClient},
		{"\"cancel\"", IntentCancel},
		{"menu.", IntentMenu},
		{"I think the user wants to add a client", IntentUnknown},
		{"", IntentUnknown},
	}
	for _, tt := range tests {
		if got := NormalizeIntent(tt.in); got != tt.want {
			t.Errorf("NormalizeIntent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClassifyIntent(t *testing.T) {
	c := &Client{completions: &stubCompletions{content: "add_coach"}, model: openai.ChatModelGPT4oMini}
	intent, err := c.ClassifyIntent(context.Background(), "+5511999990000", "can you find me a trainer")
	if err != nil {
		t.Fatalf("ClassifyIntent() error: %v", err)
	}
	if intent != IntentAddCoach {
		t.Errorf("intent = %q, want %q", intent, IntentAddCoach)
	}
}

func TestClassifyIntentError(t *testing.T) {
	c := &Client{completions: &stubCompletions{err: errors.New("rate limited")}, model: openai.ChatModelGPT4oMini}
	if _, err := c.ClassifyIntent(context.Background(), "+5511999990000", "hello"); err == nil {
		t.Error("ClassifyIntent() did not propagate the error")
	}
}
