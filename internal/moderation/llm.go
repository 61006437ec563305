package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hitsz-openauto/hoa-pr/internal/models"
)

const systemPrompt = `你是一个内容合规审核员。请审核用户提交的 readme.toml 内容是否适合发布到开源课程仓库的 README 中。

审核重点：
- 不含违法违规内容
- 不含仇恨/骚扰/人身攻击
- 不含色情露骨内容
- 不含暴力、血腥、极端主义
- 不泄露隐私信息（手机号、身份证号、住址、银行卡、账号密码等）
- 不包含任何 token/key/secret（例如以 sk- 开头的 key、GitHub token 等）
- 不包含引导违规或危险行为的内容

输入是 TOML 文本，你只输出严格 JSON（不要 Markdown），结构如下：
{
  "approved": true/false,
  "reason": "一句话说明原因",
  "red_flags": ["..."]
}

如果无法确定，倾向于拒绝（approved=false）。`

const maxReasonRunes = 200

// LLMReviewer asks an Anthropic model for a verdict.
type LLMReviewer struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewLLMReviewer creates a reviewer for the given API key and model. Extra
// request options are mainly for pointing the client at a test server.
func NewLLMReviewer(apiKey, model string, opts ...option.RequestOption) *LLMReviewer {
	all := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		all = append(all, option.WithAPIKey(apiKey))
	}
	all = append(all, opts...)
	client := anthropic.NewClient(all...)
	return &LLMReviewer{
		api:   &client,
		model: anthropic.Model(model),
	}
}

type llmVerdict struct {
	Approved *bool    `json:"approved"`
	Reason   string   `json:"reason"`
	RedFlags []string `json:"red_flags"`
}

// Review sends the document to the model. Transport failures are returned
// as errors; an answer that is not the expected JSON is a denial.
func (r *LLMReviewer) Review(ctx context.Context, text string) (models.Verdict, error) {
	msg, err := r.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     r.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return models.Verdict{}, fmt.Errorf("anthropic API call: %w", err)
	}

	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out = block.Text
			break
		}
	}
	return parseVerdict(out), nil
}

func parseVerdict(text string) models.Verdict {
	text = stripFence(text)

	var v llmVerdict
	if err := json.Unmarshal([]byte(text), &v); err != nil || v.Approved == nil {
		return models.Verdict{Allow: false, Reason: "审核模型未返回可解析 JSON，请稍后重试或联系管理员"}
	}

	reason := strings.TrimSpace(v.Reason)
	if r := []rune(reason); len(r) > maxReasonRunes {
		reason = string(r[:maxReasonRunes])
	}
	if reason == "" {
		reason = "未提供原因"
	}
	return models.Verdict{Allow: *v.Approved, Reason: reason, Flags: v.RedFlags}
}

// stripFence removes a surrounding markdown code fence if present.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}
