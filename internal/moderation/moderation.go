// Package moderation reviews documents before they are submitted. Every
// reviewer fails closed: missing configuration, errors and unreadable
// verdicts all deny.
package moderation

import (
	"context"

	"github.com/hitsz-openauto/hoa-pr/internal/models"
)

// Moderator reviews the canonical text of a document.
type Moderator interface {
	Review(ctx context.Context, text string) (models.Verdict, error)
}

// Chain runs moderators in order and stops at the first denial or error.
type Chain []Moderator

func (c Chain) Review(ctx context.Context, text string) (models.Verdict, error) {
	if len(c) == 0 {
		return Unconfigured{}.Review(ctx, text)
	}
	var flags []string
	for _, m := range c {
		v, err := m.Review(ctx, text)
		if err != nil {
			return models.Verdict{}, err
		}
		if !v.Allow {
			return v, nil
		}
		flags = append(flags, v.Flags...)
	}
	return models.Verdict{Allow: true, Reason: "审核通过", Flags: flags}, nil
}

// Unconfigured denies everything. It stands in when no review model is
// configured.
type Unconfigured struct{}

func (Unconfigured) Review(context.Context, string) (models.Verdict, error) {
	return models.Verdict{Allow: false, Reason: "未配置内容审核模型，无法进行内容审核"}, nil
}
