package moderation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/rego"

	"github.com/hitsz-openauto/hoa-pr/internal/models"
)

// DefaultPolicy rejects secrets and personal data that must never reach a
// public repository.
const DefaultPolicy = `
package hoa_pr.compliance

deny[msg] {
	regex.match("sk-[A-Za-z0-9_-]{16,}", input.text)
	msg := "包含疑似 API 密钥（sk-）"
}

deny[msg] {
	regex.match("gh[pousr]_[A-Za-z0-9]{20,}", input.text)
	msg := "包含疑似 GitHub token"
}

deny[msg] {
	regex.match("(^|[^0-9])1[3-9][0-9]{9}([^0-9]|$)", input.text)
	msg := "包含疑似手机号"
}

deny[msg] {
	regex.match("(^|[^0-9])[1-9][0-9]{5}(19|20)[0-9]{2}(0[1-9]|1[0-2])(0[1-9]|[12][0-9]|3[01])[0-9]{3}[0-9Xx]([^0-9Xx]|$)", input.text)
	msg := "包含疑似身份证号"
}

deny[msg] {
	regex.match("(?i)-----BEGIN [A-Z ]*PRIVATE KEY-----", input.text)
	msg := "包含私钥"
}
`

// PolicyReviewer evaluates a rego policy locally. Any message in
// data.hoa_pr.compliance.deny denies the document.
type PolicyReviewer struct {
	query rego.PreparedEvalQuery
}

// NewPolicyReviewer compiles policy. An empty policy selects DefaultPolicy.
func NewPolicyReviewer(ctx context.Context, policy string) (*PolicyReviewer, error) {
	if strings.TrimSpace(policy) == "" {
		policy = DefaultPolicy
	}
	r := rego.New(
		rego.Query("data.hoa_pr.compliance.deny"),
		rego.Module("compliance.rego", policy),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare rego: %w", err)
	}
	return &PolicyReviewer{query: query}, nil
}

func (p *PolicyReviewer) Review(ctx context.Context, text string) (models.Verdict, error) {
	results, err := p.query.Eval(ctx, rego.EvalInput(map[string]any{"text": text}))
	if err != nil {
		return models.Verdict{}, fmt.Errorf("evaluate policy: %w", err)
	}

	var reasons []string
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		if set, ok := results[0].Expressions[0].Value.([]any); ok {
			for _, v := range set {
				if s, ok := v.(string); ok {
					reasons = append(reasons, s)
				}
			}
		}
	}
	if len(reasons) == 0 {
		return models.Verdict{Allow: true, Reason: "本地规则检查通过"}, nil
	}
	sort.Strings(reasons)
	return models.Verdict{Allow: false, Reason: strings.Join(reasons, "；"), Flags: reasons}, nil
}
