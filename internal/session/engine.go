package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hitsz-openauto/hoa-pr/internal/document"
	"github.com/hitsz-openauto/hoa-pr/internal/locator"
	"github.com/hitsz-openauto/hoa-pr/internal/models"
	"github.com/hitsz-openauto/hoa-pr/internal/render"
	"github.com/hitsz-openauto/hoa-pr/internal/submit"
)

const (
	// DefaultBudget is the outbound segment size in runes.
	DefaultBudget       = 1800
	DefaultFetchTimeout = 30 * time.Second
)

// Resolver maps a course reference to a repository identity.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (models.RepoIdentity, error)
}

// Fetcher returns the current readme.toml of a repository.
type Fetcher interface {
	Fetch(ctx context.Context, id models.RepoIdentity) (string, error)
}

// Submitter is the submission pipeline.
type Submitter interface {
	DryRun(req submit.Request) (submit.Preview, error)
	Submit(ctx context.Context, req submit.Request) (*submit.Outcome, error)
}

// Config tunes an Engine. Zero values select defaults.
type Config struct {
	Budget       int
	TTL          time.Duration
	FetchTimeout time.Duration
	// AllowedUsers may start sessions; empty allows everyone.
	AllowedUsers []string
	Locator      *locator.Locator
	Now          func() time.Time
}

// Message is one inbound chat turn.
type Message struct {
	User  string `json:"user"`
	Scope string `json:"scope"`
	Text  string `json:"text"`
	// SenderName is the sender's display name, the default signature name.
	SenderName string `json:"sender_name,omitempty"`
	// Budget overrides the engine's segment budget for this reply.
	Budget int `json:"budget,omitempty"`
}

// Reply is the outbound result of a turn. Err is set when the turn hit one
// of the models errors; the segments already explain it to the user.
type Reply struct {
	SessionID string           `json:"session_id,omitempty"`
	State     State            `json:"state"`
	Segments  []render.Segment `json:"segments"`
	Err       error            `json:"-"`
}

// Text joins the reply segments with blank lines.
func (r Reply) Text() string {
	parts := make([]string, len(r.Segments))
	for i, s := range r.Segments {
		parts[i] = s.Text
	}
	return strings.Join(parts, "\n\n")
}

// Engine routes chat turns through the session state machine.
type Engine struct {
	resolver  Resolver
	fetcher   Fetcher
	submitter Submitter
	locator   *locator.Locator
	store     *Store

	budget       int
	fetchTimeout time.Duration
	allowed      map[string]bool
	now          func() time.Time
}

func NewEngine(r Resolver, f Fetcher, s Submitter, cfg Config) *Engine {
	e := &Engine{
		resolver:     r,
		fetcher:      f,
		submitter:    s,
		locator:      cfg.Locator,
		store:        NewStore(cfg.TTL),
		budget:       cfg.Budget,
		fetchTimeout: cfg.FetchTimeout,
		now:          cfg.Now,
	}
	if e.locator == nil {
		e.locator = locator.New()
	}
	if e.budget <= 0 {
		e.budget = DefaultBudget
	}
	if e.fetchTimeout <= 0 {
		e.fetchTimeout = DefaultFetchTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	if len(cfg.AllowedUsers) > 0 {
		e.allowed = make(map[string]bool, len(cfg.AllowedUsers))
		for _, u := range cfg.AllowedUsers {
			e.allowed[strings.TrimSpace(u)] = true
		}
	}
	return e
}

// Sessions returns a summary of every live session.
func (e *Engine) Sessions() []Summary {
	list := e.store.List()
	out := make([]Summary, len(list))
	for i, s := range list {
		out[i] = s.Summary()
	}
	return out
}

// Session returns a copy of the live session for key.
func (e *Engine) Session(key Key) (Session, bool) {
	unlock := e.store.Lock(key)
	defer unlock()
	return e.store.Get(key)
}

// Handle processes one inbound message. Turns for the same key are
// serialized; the key lock is never held across a resolve, fetch or submit
// call.
func (e *Engine) Handle(ctx context.Context, msg Message) Reply {
	key := Key{User: msg.User, Scope: msg.Scope}
	t := &turn{e: e, msg: msg, budget: msg.Budget}
	if t.budget <= 0 {
		t.budget = e.budget
	}
	cmd := parseCommand(msg.Text)

	if cmd.kind == cmdStart {
		return e.start(ctx, t, key, cmd.arg)
	}

	unlock := e.store.Lock(key)
	sess, live := e.store.Get(key)

	switch {
	case cmd.kind == cmdHelp:
		unlock()
		return t.reply(stateOf(sess, live), sess.ID, helpText)
	case cmd.kind == cmdCancel:
		defer unlock()
		return e.cancel(t, sess, live)
	case !live:
		unlock()
		if cmd.kind == cmdNone && strings.TrimSpace(msg.Text) == "" {
			return t.reply(Idle, "", helpText)
		}
		return t.reply(Idle, "", "请先 /pr start <课程代码或名称> 进入流程")
	case sess.InFlight:
		unlock()
		return t.reply(sess.State, sess.ID, "上一条请求仍在处理中，请稍候再试（或 /pr cancel 取消）")
	case sess.State == AwaitingConfirm && cmd.kind == cmdNone && cancelWords[answer(msg.Text)]:
		defer unlock()
		return e.cancel(t, sess, live)
	case sess.State == AwaitingConfirm && (cmd.kind == cmdConfirm || (cmd.kind == cmdNone && confirmWords[answer(msg.Text)])):
		return e.submit(ctx, t, sess, unlock)
	}

	rep := t.step(&sess, cmd)
	e.save(&sess)
	unlock()
	return rep
}

func stateOf(sess Session, live bool) State {
	if !live {
		return Idle
	}
	return sess.State
}

// save writes sess back. Callers hold the key lock.
func (e *Engine) save(sess *Session) {
	sess.Version++
	sess.UpdatedAt = e.now()
	e.store.Put(*sess)
}

func (e *Engine) cancel(t *turn, sess Session, live bool) Reply {
	if !live {
		return t.reply(Idle, "", "当前没有进行中的 PR 流程")
	}
	to, err := Next(sess.State, EvCancel)
	if err != nil {
		return t.fail(sess, err)
	}
	e.store.Delete(sess.Key)
	slog.Info("session cancelled", "session", sess.ID, "user", sess.Key.User, "scope", sess.Key.Scope)
	return t.reply(to, sess.ID, "已取消本次 PR 提交流程")
}

// start resolves ref, fetches and parses the document outside the key lock,
// then installs a new session unless the key changed meanwhile. A failed
// start leaves any existing session untouched.
func (e *Engine) start(ctx context.Context, t *turn, key Key, ref string) Reply {
	unlock := e.store.Lock(key)
	prev, live := e.store.Get(key)
	switch {
	case !e.allows(key.User):
		unlock()
		return t.reply(stateOf(prev, live), prev.ID, "你没有权限发起 PR（管理员未授权）")
	case strings.TrimSpace(ref) == "":
		unlock()
		return t.reply(stateOf(prev, live), prev.ID, "用法：/pr start <课程代码或名称>")
	case live && prev.InFlight:
		unlock()
		return t.reply(prev.State, prev.ID, "上一条请求仍在处理中，请稍候再试（或 /pr cancel 取消）")
	}
	if live {
		prev.InFlight = true
		e.save(&prev)
	}
	unlock()

	fctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()
	id, doc, err := e.load(fctx, ref)

	unlock = e.store.Lock(key)
	defer unlock()
	cur, ok := e.store.Get(key)
	if ok != live || (live && (cur.ID != prev.ID || cur.Version != prev.Version)) {
		return t.discarded(cur, ok)
	}

	if err != nil {
		if live {
			cur.InFlight = false
			e.save(&cur)
		}
		slog.Warn("session start failed", "ref", ref, "user", key.User, "error", err)
		return t.replyErr(stateOf(cur, ok), cur.ID, err, startError(ref, err))
	}

	from := Idle
	if live {
		from = cur.State
	}
	to, err := Next(from, EvStart)
	if err != nil {
		return t.fail(cur, err)
	}
	now := e.now()
	sess := Session{
		ID:        ulid.Make().String(),
		Key:       key,
		Repo:      id,
		State:     to,
		Doc:       doc,
		Base:      doc,
		CreatedAt: now,
	}
	sess.clearPending()
	e.save(&sess)
	slog.Info("session started", "session", sess.ID, "repo", id.Key(), "user", key.User, "scope", key.Scope, "replaced", live)

	text := fmt.Sprintf("已进入 PR 提交流程：《%s》（%s）\n", id.CourseName, id.CourseCode)
	if live {
		text += "（已替换之前未完成的流程）\n"
	}
	text += startHint
	return t.reply(sess.State, sess.ID, text)
}

func (e *Engine) load(ctx context.Context, ref string) (models.RepoIdentity, document.Document, error) {
	id, err := e.resolver.Resolve(ctx, ref)
	if err != nil {
		return id, nil, err
	}
	raw, err := e.fetcher.Fetch(ctx, id)
	if err != nil {
		return id, nil, err
	}
	doc, err := document.Parse(raw)
	if err != nil {
		return id, nil, err
	}
	if id.RepoType == "" {
		id.RepoType = string(doc.RepoType())
	}
	return id, doc, nil
}

func startError(ref string, err error) string {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return fmt.Sprintf("未找到课程或其 readme.toml：%s", ref)
	case errors.Is(err, models.ErrParse):
		return fmt.Sprintf("仓库中的 readme.toml 无法解析：%v", err)
	case errors.Is(err, context.DeadlineExceeded):
		return "拉取文档超时，请稍后重试"
	default:
		return fmt.Sprintf("拉取失败：%v，请稍后重试", err)
	}
}

// submit runs the pipeline for a session in AwaitingConfirm. The caller
// holds the key lock; submit releases it for the pipeline call.
func (e *Engine) submit(ctx context.Context, t *turn, sess Session, unlock func()) Reply {
	sess.InFlight = true
	e.save(&sess)
	snap := sess
	unlock()

	req := submit.Request{
		Identity: snap.Repo,
		Document: snap.Doc,
		Base:     snap.Base,
		Changes:  snap.Log,
		UserID:   snap.Key.User,
		Scope:    snap.Key.Scope,
	}
	out, err := e.submitter.Submit(ctx, req)

	unlock = e.store.Lock(snap.Key)
	defer unlock()
	cur, ok := e.store.Get(snap.Key)
	if !ok || cur.ID != snap.ID || cur.Version != snap.Version {
		rep := t.discarded(cur, ok)
		if err == nil && out != nil {
			rep.Segments = append(rep.Segments, t.notice("提交结果："+prText(out.Result))...)
		}
		return rep
	}
	cur.InFlight = false

	if err != nil {
		to, terr := Next(cur.State, EvFailed)
		if terr != nil {
			return t.fail(cur, terr)
		}
		cur.State = to
		e.save(&cur)
		slog.Warn("submission failed", "session", cur.ID, "repo", cur.Repo.Key(), "error", err)
		return t.replyErr(cur.State, cur.ID, err, submitError(err))
	}

	to, terr := Next(cur.State, EvSubmitted)
	if terr != nil {
		return t.fail(cur, terr)
	}
	e.store.Delete(cur.Key)
	slog.Info("session submitted", "session", cur.ID, "repo", cur.Repo.Key(), "pr", out.Result.PRRef, "created", out.Result.Created)
	return t.reply(to, cur.ID, prText(out.Result))
}

func submitError(err error) string {
	var denied *submit.DeniedError
	switch {
	case errors.As(err, &denied):
		return fmt.Sprintf("审核未通过：%s\n会话已保留，可修改后再次 /pr confirm。", denied.Reason)
	case errors.Is(err, models.ErrRemoteUnavailable):
		return fmt.Sprintf("提交失败：%v\n会话已保留，可稍后再次 /pr confirm 重试。", err)
	default:
		return fmt.Sprintf("提交失败：%v\n会话已保留，可再次 /pr confirm 重试。", err)
	}
}

func prText(res models.EnsureResult) string {
	switch {
	case strings.HasPrefix(res.PRRef, "pending:"):
		return "仓库不存在，已进入 pending：request_id=" + strings.TrimPrefix(res.PRRef, "pending:")
	case res.Created:
		return "已创建 PR：" + res.PRRef
	default:
		return "已更新 PR：" + res.PRRef
	}
}

func (e *Engine) allows(user string) bool {
	return e.allowed == nil || e.allowed[user]
}
