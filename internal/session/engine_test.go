package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitsz-openauto/hoa-pr/internal/document"
	"github.com/hitsz-openauto/hoa-pr/internal/models"
	"github.com/hitsz-openauto/hoa-pr/internal/submit"
)

const autoDoc = `course_code = "AUTO2001"
course_name = "自动化专业导论"
description = "导论课，主要介绍专业方向。"

[[lecturers]]
name = "张老师"

[[lecturers.reviews]]
content = "老师讲得很好，推荐选修。"

[[lecturers.reviews]]
content = "老师讲得很好，但是作业偏多。"

[[sections]]
title = "课程简介"

[[sections.items]]
content = "每周一次课。"
`

const multiDoc = `repo_type = "multi-project"
course_code = "GEN1001"
course_name = "通识课组"
description = ""

[[courses]]
code = "GEN1001A"
name = "音乐鉴赏"

[[courses.sections]]
title = "考核"

[[courses.sections.items]]
content = "期末论文。"

[[courses]]
name = "美术鉴赏"
`

var (
	autoID  = models.RepoIdentity{RepoName: "AUTO2001", CourseCode: "AUTO2001", CourseName: "自动化专业导论", RepoType: "normal"}
	multiID = models.RepoIdentity{RepoName: "GeneralKnowledge", CourseCode: "GEN1001", CourseName: "通识课组", RepoType: "multi-project"}
)

type fakeCatalog struct {
	ids  map[string]models.RepoIdentity
	docs map[string]string
}

func (c *fakeCatalog) Resolve(_ context.Context, ref string) (models.RepoIdentity, error) {
	id, ok := c.ids[strings.ToUpper(strings.TrimSpace(ref))]
	if !ok {
		return models.RepoIdentity{}, models.ErrNotFound
	}
	return id, nil
}

func (c *fakeCatalog) Fetch(_ context.Context, id models.RepoIdentity) (string, error) {
	doc, ok := c.docs[id.Key()]
	if !ok {
		return "", models.ErrNotFound
	}
	return doc, nil
}

type fakeModerator struct {
	verdict models.Verdict
}

func (m *fakeModerator) Review(context.Context, string) (models.Verdict, error) {
	return m.verdict, nil
}

type fakePR struct {
	mu    sync.Mutex
	texts []string
	// entered and release, when set, block Ensure until the test lets go
	entered chan struct{}
	release chan struct{}
}

func (p *fakePR) Ensure(_ context.Context, id models.RepoIdentity, text string) (models.EnsureResult, error) {
	if p.entered != nil {
		p.entered <- struct{}{}
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, text)
	return models.EnsureResult{PRRef: "https://example.test/" + id.Key() + "/pull/1", Created: len(p.texts) == 1}, nil
}

func (p *fakePR) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.texts)
}

type harness struct {
	t      *testing.T
	engine *Engine
	mod    *fakeModerator
	pr     *fakePR
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	cat := &fakeCatalog{
		ids:  map[string]models.RepoIdentity{"AUTO2001": autoID, "GEN1001": multiID, "BROKEN": {RepoName: "BROKEN", CourseCode: "BROKEN"}},
		docs: map[string]string{"AUTO2001": autoDoc, "GeneralKnowledge": multiDoc, "BROKEN": "course_code = ["},
	}
	mod := &fakeModerator{verdict: models.Verdict{Allow: true, Reason: "ok"}}
	pr := &fakePR{}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) }
	}
	pipeline := &submit.Pipeline{Moderator: mod, PR: pr}
	return &harness{t: t, engine: NewEngine(cat, cat, pipeline, cfg), mod: mod, pr: pr}
}

func (h *harness) send(text string) Reply {
	h.t.Helper()
	return h.engine.Handle(context.Background(), Message{User: "u1", Scope: "g1", Text: text, SenderName: "小明"})
}

// expect sends text and asserts the state reached.
func (h *harness) expect(text string, want State) Reply {
	h.t.Helper()
	r := h.send(text)
	require.Equal(h.t, want, r.State, "after %q: %s", text, r.Text())
	return r
}

func (h *harness) doc() document.Document {
	h.t.Helper()
	sess, ok := h.engine.Session(Key{User: "u1", Scope: "g1"})
	require.True(h.t, ok)
	return sess.Doc
}

func (h *harness) submitted() document.Document {
	h.t.Helper()
	require.Equal(h.t, 1, h.pr.calls())
	doc, err := document.Parse(h.pr.texts[0])
	require.NoError(h.t, err)
	return doc
}

func TestScenario_AddSectionAndSubmit(t *testing.T) {
	h := newHarness(t, Config{})
	base, err := document.Parse(autoDoc)
	require.NoError(t, err)

	h.expect("/pr start AUTO2001", Started)
	h.expect("/pr add 学习建议", AwaitingBody)
	h.expect("推荐预习内容", Started)
	h.expect("/pr confirm", AwaitingSignDecision)
	r := h.expect("n", AwaitingConfirm)
	assert.Contains(t, r.Text(), "#1 新增 章节《学习建议》第 1 条")
	r = h.expect("确认", Submitted)
	assert.Contains(t, r.Text(), "已创建 PR")

	got := h.submitted().(document.Normal)
	want := base.(document.Normal)
	assert.Equal(t, want.Header(), got.Header())
	require.Len(t, got.Sections, len(want.Sections)+1)
	added := got.Sections[len(got.Sections)-1]
	assert.Equal(t, "学习建议", added.Title)
	require.Len(t, added.Items, 1)
	assert.Equal(t, "推荐预习内容", added.Items[0].Content)
	assert.Empty(t, added.Items[0].Authors)

	_, live := h.engine.Session(Key{User: "u1", Scope: "g1"})
	assert.False(t, live)
}

func TestScenario_ModifyPicksSecondReview(t *testing.T) {
	h := newHarness(t, Config{})

	h.expect("/pr start AUTO2001", Started)
	h.expect("/pr modify", AwaitingLocateText)
	r := h.expect("老师讲得很好", AwaitingDisambiguation)
	assert.ErrorIs(t, r.Err, models.ErrAmbiguous)

	sess, _ := h.engine.Session(Key{User: "u1", Scope: "g1"})
	require.Len(t, sess.Pending.Candidates, 2)
	assert.NotEqual(t, sess.Pending.Candidates[0].Location, sess.Pending.Candidates[1].Location)
	assert.Contains(t, r.Text(), "1) [lecturers] 《张老师》评价#1")
	assert.Contains(t, r.Text(), "2) [lecturers] 《张老师》评价#2")

	h.expect("第二个", AwaitingDisambiguation)
	h.expect("3", AwaitingDisambiguation)
	h.expect("2", AwaitingReplacement)
	h.expect("新的评价内容", Started)

	doc := h.doc().(document.Normal)
	reviews := doc.Lecturers[0].Reviews
	assert.Equal(t, "老师讲得很好，推荐选修。", reviews[0].Content)
	assert.Equal(t, "新的评价内容", reviews[1].Content)
}

func TestScenario_ModifyUniqueAndNotFound(t *testing.T) {
	h := newHarness(t, Config{})
	h.expect("/pr start AUTO2001", Started)
	h.expect("/pr modify", AwaitingLocateText)

	r := h.expect("完全不相关的一段话，仓库里没有", AwaitingLocateText)
	assert.ErrorIs(t, r.Err, models.ErrNotFound)

	r = h.expect("每周一次课。", AwaitingReplacement)
	assert.Contains(t, r.Text(), "章节《课程简介》第 1 条")
	h.expect("每周两次课。", Started)
	assert.Equal(t, "每周两次课。", h.doc().(document.Normal).Sections[0].Items[0].Content)
}

func TestScenario_ModerationDenyKeepsSession(t *testing.T) {
	h := newHarness(t, Config{})
	h.mod.verdict = models.Verdict{Allow: false, Reason: "含有手机号"}

	h.expect("/pr start AUTO2001", Started)
	h.expect("/pr add 联系方式", AwaitingBody)
	h.expect("13812345678", Started)
	h.expect("/pr confirm", AwaitingSignDecision)
	h.expect("no", AwaitingConfirm)
	r := h.expect("confirm", Started)

	assert.ErrorIs(t, r.Err, models.ErrComplianceDenied)
	assert.Contains(t, r.Text(), "含有手机号")
	assert.Equal(t, 0, h.pr.calls())

	// the user can fix the text and confirm again
	h.mod.verdict = models.Verdict{Allow: true}
	h.expect("/pr confirm", AwaitingSignDecision)
	h.expect("n", AwaitingConfirm)
	h.expect("/pr confirm", Submitted)
	assert.Equal(t, 1, h.pr.calls())
}

func TestScenario_SignatureStampsEditedLeaves(t *testing.T) {
	h := newHarness(t, Config{})
	h.expect("/pr start AUTO2001", Started)
	h.expect("/pr edit 课程简介 1", AwaitingReplacement)
	h.expect("每周两次课。", Started)
	h.expect("/pr add 学习建议", AwaitingBody)
	h.expect("推荐预习内容", Started)
	h.expect("/pr confirm", AwaitingSignDecision)
	h.expect("y", AwaitingSignName)
	h.expect("-", AwaitingSignLink)
	h.expect("https://github.com/xiaoming", AwaitingConfirm)
	h.expect("yes", Submitted)

	got := h.submitted().(document.Normal)
	want := document.Author{Name: "小明", Link: "https://github.com/xiaoming", Date: "2026-10"}
	assert.Equal(t, []document.Author{want}, got.Sections[0].Items[0].Authors)
	assert.Equal(t, []document.Author{want}, got.Sections[1].Items[0].Authors)
	assert.Empty(t, got.Lecturers[0].Reviews[0].Authors)
}

func TestScenario_PasteWholeDocument(t *testing.T) {
	h := newHarness(t, Config{})
	h.expect("/pr start AUTO2001", Started)

	pasted := strings.Replace(autoDoc, "每周一次课。", "每周三次课。", 1)
	r := h.expect(pasted, AwaitingSignDecision)
	assert.Contains(t, r.Text(), "1 处条目有变化")

	h.expect("是", AwaitingSignName)
	h.expect("阿强", AwaitingSignLink)
	h.expect("无", AwaitingConfirm)
	h.expect("确认", Submitted)

	got := h.submitted().(document.Normal)
	assert.Equal(t, "每周三次课。", got.Sections[0].Items[0].Content)
	assert.Equal(t, []document.Author{{Name: "阿强", Date: "2026-10"}}, got.Sections[0].Items[0].Authors)
}

func TestScenario_PasteParseError(t *testing.T) {
	h := newHarness(t, Config{})
	h.expect("/pr start AUTO2001", Started)

	r := h.expect("course_code = [", Started)
	assert.ErrorIs(t, r.Err, models.ErrParse)

	r = h.expect("随便说点什么", Started)
	assert.Contains(t, r.Text(), "未识别的输入")
}

func TestScenario_MultiProjectAdd(t *testing.T) {
	h := newHarness(t, Config{})
	h.expect("/pr start GEN1001", Started)
	h.expect("/pr add", AwaitingSectionTitle)
	h.expect("考核", AwaitingSectionTitle)
	h.expect("音乐鉴赏/考核", AwaitingBody)
	h.expect("平时作业。", Started)
	h.expect("/pr edit 美术鉴赏/作品 1", Started)

	doc := h.doc().(document.MultiProject)
	items := doc.Courses[0].Sections[0].Items
	require.Len(t, items, 2)
	assert.Equal(t, "平时作业。", items[1].Content)
}

func TestCancel(t *testing.T) {
	for _, steps := range [][]string{
		{"/pr start AUTO2001"},
		{"/pr start AUTO2001", "/pr add"},
		{"/pr start AUTO2001", "/pr modify", "老师讲得很好"},
		{"/pr start AUTO2001", "/pr add x", "y", "/pr confirm", "y"},
	} {
		h := newHarness(t, Config{})
		for _, s := range steps {
			h.send(s)
		}
		r := h.expect("/pr cancel", Cancelled)
		assert.Contains(t, r.Text(), "已取消")
		h.expect("/pr show", Idle)
	}

	h := newHarness(t, Config{})
	h.expect("/pr start AUTO2001", Started)
	h.expect("/pr add x", AwaitingBody)
	h.expect("y", Started)
	h.expect("/pr confirm", AwaitingSignDecision)
	h.expect("n", AwaitingConfirm)
	h.expect("取消", Cancelled)
	assert.Equal(t, 0, h.pr.calls())
}

func TestStart(t *testing.T) {
	t.Run("unknown course stays idle", func(t *testing.T) {
		h := newHarness(t, Config{})
		r := h.expect("/pr start NOPE", Idle)
		assert.ErrorIs(t, r.Err, models.ErrNotFound)
	})

	t.Run("unparsable document", func(t *testing.T) {
		h := newHarness(t, Config{})
		r := h.expect("/pr start BROKEN", Idle)
		assert.ErrorIs(t, r.Err, models.ErrParse)
	})

	t.Run("second start replaces", func(t *testing.T) {
		h := newHarness(t, Config{})
		first := h.expect("/pr start AUTO2001", Started)
		h.expect("/pr add", AwaitingSectionTitle)
		second := h.expect("/pr start GEN1001", Started)
		assert.NotEqual(t, first.SessionID, second.SessionID)
		assert.Equal(t, "GEN1001", h.doc().Header().CourseCode)
	})

	t.Run("failed start keeps the live session", func(t *testing.T) {
		h := newHarness(t, Config{})
		first := h.expect("/pr start AUTO2001", Started)
		r := h.expect("/pr start NOPE", Started)
		assert.Equal(t, first.SessionID, r.SessionID)
		h.expect("/pr add", AwaitingSectionTitle)
	})

	t.Run("allowed users", func(t *testing.T) {
		h := newHarness(t, Config{AllowedUsers: []string{"admin"}})
		r := h.expect("/pr start AUTO2001", Idle)
		assert.Contains(t, r.Text(), "没有权限")
	})

	t.Run("usage", func(t *testing.T) {
		h := newHarness(t, Config{})
		r := h.expect("/pr start", Idle)
		assert.Contains(t, r.Text(), "用法")
	})
}

func TestConfirmWithoutEditsIsRefused(t *testing.T) {
	h := newHarness(t, Config{})
	h.expect("/pr start AUTO2001", Started)
	r := h.expect("/pr confirm", Started)
	assert.Contains(t, r.Text(), "尚未做任何修改")
}

func TestCommandsOutsideStartedReprompt(t *testing.T) {
	h := newHarness(t, Config{})
	h.expect("/pr start AUTO2001", Started)
	h.expect("/pr add", AwaitingSectionTitle)
	r := h.expect("/pr modify", AwaitingSectionTitle)
	assert.Contains(t, r.Text(), "当前步骤尚未完成")
	h.expect("/pr help", AwaitingSectionTitle)
	h.expect("/pr bogus", AwaitingSectionTitle)
}

func TestIdleWithoutSession(t *testing.T) {
	h := newHarness(t, Config{})
	r := h.expect("/pr add", Idle)
	assert.Contains(t, r.Text(), "/pr start")
	h.expect("/pr cancel", Idle)
	h.expect("/pr", Idle)
}

func TestShowAndDiff(t *testing.T) {
	h := newHarness(t, Config{Budget: 80})
	h.expect("/pr start AUTO2001", Started)
	r := h.expect("/pr show", Started)
	require.NotEmpty(t, r.Segments)
	for _, s := range r.Segments {
		assert.LessOrEqual(t, len([]rune(s.Text)), 80)
	}
	assert.Equal(t, "header", r.Segments[0].RegionTag)

	r = h.expect("/pr diff", Started)
	assert.Contains(t, r.Text(), "尚未做任何修改")

	h.expect("/pr add 学习建议", AwaitingBody)
	h.expect("推荐预习内容", Started)
	r = h.expect("/pr diff", Started)
	assert.Contains(t, r.Text(), "#1 新增")
	assert.Contains(t, r.Text(), "+")
}

func TestSessionsAreIndependent(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, user := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, text := range []string{"/pr start AUTO2001", "/pr add 学习建议", "推荐预习内容 " + user} {
				h.engine.Handle(ctx, Message{User: user, Scope: "g", Text: text})
			}
		}()
	}
	wg.Wait()

	summaries := h.engine.Sessions()
	require.Len(t, summaries, 4)
	for _, s := range summaries {
		assert.Equal(t, Started, s.State)
		assert.Equal(t, 1, s.Edits)
	}
}

func TestCancelDuringSubmitDiscardsResult(t *testing.T) {
	h := newHarness(t, Config{})
	h.pr.entered = make(chan struct{})
	h.pr.release = make(chan struct{})

	h.expect("/pr start AUTO2001", Started)
	h.expect("/pr add 学习建议", AwaitingBody)
	h.expect("推荐预习内容", Started)
	h.expect("/pr confirm", AwaitingSignDecision)
	h.expect("n", AwaitingConfirm)

	done := make(chan Reply, 1)
	go func() { done <- h.send("确认") }()
	<-h.pr.entered

	r := h.send("/pr add x")
	assert.Contains(t, r.Text(), "仍在处理中")

	h.expect("/pr cancel", Cancelled)
	close(h.pr.release)

	r = <-done
	assert.Contains(t, r.Text(), "本次结果已丢弃")
	assert.Equal(t, Idle, r.State)

	_, live := h.engine.Session(Key{User: "u1", Scope: "g1"})
	assert.False(t, live)
}
