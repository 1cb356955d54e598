package assistant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"

	"github.com/ScripturePalpi/palpi/internal/model"
)

const (
	defaultOpenAIModel    = openai.GPT4oMini
	defaultAnthropicModel = "claude-3-5-haiku-latest"
	maxReplyTokens        = 512
)

var ErrEmptyReply = errors.New("empty reply")

// Responder maps an utterance to the reply text.
type Responder interface {
	Respond(ctx context.Context, text string) (string, error)
}

type Keyword struct {
	Word  string
	Reply string
}

// KeywordResponder answers with the reply of the first keyword contained
// in the utterance.
type KeywordResponder struct {
	Keywords []Keyword
	Fallback string
}

func NewKeywordResponder() KeywordResponder {
	return KeywordResponder{
		Keywords: []Keyword{
			{"hello", "Hello! May God's peace be with you today. How can I help you on your spiritual journey?"},
			{"how are you", "I'm doing well, thank you for asking. I'm here to support you in your faith and spiritual growth."},
			{"prayer", "Prayer is a beautiful way to connect with God. Remember, He always listens with love and understanding."},
			{"bible", "The Bible is God's living word, full of wisdom and guidance for our daily lives. What specific passage or topic interests you?"},
			{"faith", "Faith is a gift from God that grows stronger through trust, prayer, and experiencing His love in our lives."},
			{"love", "God's love is unconditional and everlasting. He loves you more than you can imagine, just as you are."},
			{"peace", "Peace comes from knowing that God is in control and that He works all things for good for those who love Him."},
			{"hope", "Hope in Christ is an anchor for our souls. Even in difficult times, we can trust in His promises and love."},
			{"help", "I'm here to help you! Whether you need spiritual guidance, prayer support, or just someone to talk to about your faith."},
			{"thank you", "You're very welcome! It's a blessing to be able to help you on your spiritual journey. God bless you!"},
		},
		Fallback: "Thank you for sharing that with me. Remember that God loves you and is always with you. Is there anything specific about your faith journey I can help you with?",
	}
}

func (r KeywordResponder) Respond(_ context.Context, text string) (string, error) {
	lower := strings.ToLower(text)
	for _, k := range r.Keywords {
		if strings.Contains(lower, k.Word) {
			return k.Reply, nil
		}
	}
	return r.Fallback, nil
}

// OpenAIResponder asks a chat completion model, with the assistant context
// as the system message.
type OpenAIResponder struct {
	client *openai.Client
	model  string
	system string
}

func NewOpenAIResponder(cfg openai.ClientConfig, model, system string) *OpenAIResponder {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIResponder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		system: system,
	}
}

func (r *OpenAIResponder) Respond(ctx context.Context, text string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if r.system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: r.system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     r.model,
		Messages:  messages,
		MaxTokens: maxReplyTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// AnthropicResponder asks a Claude model through the messages API.
type AnthropicResponder struct {
	client anthropic.Client
	model  string
	system string
}

func NewAnthropicResponder(model, system string, opts ...option.RequestOption) *AnthropicResponder {
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicResponder{
		client: anthropic.NewClient(opts...),
		model:  model,
		system: system,
	}
}

func (r *AnthropicResponder) Respond(ctx context.Context, text string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: maxReplyTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	}
	if r.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: r.system}}
	}

	resp, err := r.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			sb.WriteString(block.AsText().Text)
		}
	}
	reply := strings.TrimSpace(sb.String())
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// ResponderFromConfig builds the configured responder. An api_key of the
// form $NAME is read from the environment.
func ResponderFromConfig(cfg model.Assistant) (Responder, error) {
	key := cfg.APIKey
	if strings.HasPrefix(key, "$") {
		key = os.ExpandEnv(key)
	}
	system := strings.TrimSpace(cfg.Context)

	switch cfg.Provider {
	case "", model.ProviderKeywords:
		return NewKeywordResponder(), nil
	case model.ProviderOpenAI:
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, errors.New("assistant.api_key or OPENAI_API_KEY is required for the openai provider")
		}
		return NewOpenAIResponder(openai.DefaultConfig(key), cfg.Model, system), nil
	case model.ProviderAnthropic:
		var opts []option.RequestOption
		if key != "" {
			opts = append(opts, option.WithAPIKey(key))
		}
		return NewAnthropicResponder(cfg.Model, system, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported assistant.provider %q", cfg.Provider)
	}
}
