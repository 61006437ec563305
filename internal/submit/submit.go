// Package submit turns an edited session document into a pull request: it
// serializes the document, runs the compliance gate and asks the PR service
// to create or update the repository's PR.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitsz-openauto/hoa-pr/internal/document"
	"github.com/hitsz-openauto/hoa-pr/internal/models"
	"github.com/hitsz-openauto/hoa-pr/internal/patch"
)

const (
	DefaultModerationTimeout = 60 * time.Second
	DefaultSubmitTimeout     = 30 * time.Second
)

// Moderator reviews canonical document text.
type Moderator interface {
	Review(ctx context.Context, text string) (models.Verdict, error)
}

// PRService creates the repository's pull request or updates the open one.
type PRService interface {
	Ensure(ctx context.Context, id models.RepoIdentity, text string) (models.EnsureResult, error)
}

// Recorder persists submission attempts.
type Recorder interface {
	CreateSubmission(ctx context.Context, s *models.Submission) error
}

// DeniedError carries the reviewer's reason for a denial.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	if e.Reason == "" {
		return models.ErrComplianceDenied.Error()
	}
	return models.ErrComplianceDenied.Error() + ": " + e.Reason
}

func (e *DeniedError) Unwrap() error { return models.ErrComplianceDenied }

// Request is one submission of a session document.
type Request struct {
	Identity models.RepoIdentity
	Document document.Document
	// Base is the document as fetched; the preview diff is taken against it.
	Base    document.Document
	Changes []string
	UserID  string
	Scope   string
}

// Preview is the dry-run output shown before the user confirms.
type Preview struct {
	Text     string   `json:"text"`
	Revision string   `json:"revision"`
	Diff     string   `json:"diff"`
	Changes  []string `json:"changes"`
}

// Outcome is the result of a successful submission.
type Outcome struct {
	Preview Preview             `json:"preview"`
	Verdict models.Verdict      `json:"verdict"`
	Result  models.EnsureResult `json:"result"`
}

// Pipeline runs dry-run, gate and ensure. A nil Moderator denies every
// submission; a nil Recorder skips the submission log.
type Pipeline struct {
	Moderator         Moderator
	PR                PRService
	Recorder          Recorder
	ModerationTimeout time.Duration
	SubmitTimeout     time.Duration
}

// DryRun serializes the document and builds the preview without calling
// any collaborator.
func (p *Pipeline) DryRun(req Request) (Preview, error) {
	text, err := document.Serialize(req.Document)
	if err != nil {
		return Preview{}, err
	}
	pv := Preview{
		Text:     text,
		Revision: document.Revision(req.Document),
		Changes:  append([]string(nil), req.Changes...),
	}
	if req.Base != nil {
		diff, err := patch.Diff(req.Base, req.Document)
		if err != nil {
			return Preview{}, err
		}
		pv.Diff = diff
	}
	return pv, nil
}

// Gate runs the compliance review. Missing configuration, reviewer errors
// and timeouts all deny; a denial is returned as *DeniedError.
func (p *Pipeline) Gate(ctx context.Context, text string) (models.Verdict, error) {
	if p.Moderator == nil {
		return p.deny("未配置内容审核，无法提交")
	}

	ctx, cancel := context.WithTimeout(ctx, orDefault(p.ModerationTimeout, DefaultModerationTimeout))
	defer cancel()

	v, err := p.Moderator.Review(ctx, text)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		slog.Warn("moderation timed out", "error", err)
		return p.deny("内容审核超时，请稍后重试")
	case err != nil:
		slog.Warn("moderation failed", "error", err)
		return p.deny("内容审核服务异常：" + err.Error())
	case !v.Allow:
		reason := v.Reason
		if strings.TrimSpace(reason) == "" {
			reason = "未提供原因"
		}
		return v, &DeniedError{Reason: reason}
	}
	return v, nil
}

func (p *Pipeline) deny(reason string) (models.Verdict, error) {
	return models.Verdict{Allow: false, Reason: reason}, &DeniedError{Reason: reason}
}

// Submit runs the whole pipeline once. Every attempt is recorded. A
// submission timeout surfaces as ErrRemoteUnavailable; nothing is retried.
func (p *Pipeline) Submit(ctx context.Context, req Request) (*Outcome, error) {
	pv, err := p.DryRun(req)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Preview: pv}

	out.Verdict, err = p.Gate(ctx, pv.Text)
	if err != nil {
		p.record(ctx, req, pv, models.SubmissionDenied, out.Verdict.Reason, models.EnsureResult{})
		return out, err
	}

	if p.PR == nil {
		err := fmt.Errorf("no PR service configured: %w", models.ErrRemoteUnavailable)
		p.record(ctx, req, pv, models.SubmissionFailed, err.Error(), models.EnsureResult{})
		return out, err
	}

	ectx, cancel := context.WithTimeout(ctx, orDefault(p.SubmitTimeout, DefaultSubmitTimeout))
	defer cancel()
	res, err := p.PR.Ensure(ectx, req.Identity, pv.Text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, models.ErrRemoteUnavailable) {
			err = fmt.Errorf("submit timed out: %w: %v", models.ErrRemoteUnavailable, err)
		}
		p.record(ctx, req, pv, models.SubmissionFailed, err.Error(), models.EnsureResult{})
		return out, err
	}

	out.Result = res
	p.record(ctx, req, pv, models.SubmissionSubmitted, out.Verdict.Reason, res)
	slog.Info("submission ensured", "repo", req.Identity.Key(), "pr", res.PRRef, "created", res.Created)
	return out, nil
}

func (p *Pipeline) record(ctx context.Context, req Request, pv Preview, outcome models.SubmissionOutcome, reason string, res models.EnsureResult) {
	if p.Recorder == nil {
		return
	}
	sub := &models.Submission{
		RepoName:   req.Identity.Key(),
		CourseCode: req.Identity.CourseCode,
		UserID:     req.UserID,
		Scope:      req.Scope,
		Outcome:    outcome,
		Reason:     reason,
		PRRef:      res.PRRef,
		Created:    res.Created,
		Revision:   pv.Revision,
	}
	// the caller's context may already be past its deadline
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.Recorder.CreateSubmission(rctx, sub); err != nil {
		slog.Warn("failed to record submission", "repo", sub.RepoName, "error", err)
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
