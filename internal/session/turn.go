package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hitsz-openauto/hoa-pr/internal/document"
	"github.com/hitsz-openauto/hoa-pr/internal/models"
	"github.com/hitsz-openauto/hoa-pr/internal/patch"
	"github.com/hitsz-openauto/hoa-pr/internal/render"
	"github.com/hitsz-openauto/hoa-pr/internal/submit"
)

// replacement previews in prompts are clipped to this many runes
const previewRunes = 200

// turn carries the per-message context of one Handle call.
type turn struct {
	e      *Engine
	msg    Message
	budget int
}

func (t *turn) notice(text string) []render.Segment {
	return render.Chunk("", text, render.TagNotice, t.budget)
}

func (t *turn) reply(state State, id, text string) Reply {
	return Reply{SessionID: id, State: state, Segments: t.notice(text)}
}

func (t *turn) replyErr(state State, id string, err error, text string) Reply {
	r := t.reply(state, id, text)
	r.Err = err
	return r
}

// fail reports a transition the table does not allow. It indicates a bug,
// so the session is left as it was.
func (t *turn) fail(sess Session, err error) Reply {
	slog.Error("session transition rejected", "session", sess.ID, "state", sess.State, "error", err)
	return t.replyErr(sess.State, sess.ID, err, "状态异常，请 /pr cancel 后重新开始")
}

func (t *turn) discarded(cur Session, live bool) Reply {
	return t.reply(stateOf(cur, live), cur.ID, "会话在处理期间已被取消或替换，本次结果已丢弃")
}

// advance moves sess along ev and returns the reply for the new state.
func (t *turn) advance(sess *Session, ev Event, text string) Reply {
	to, err := Next(sess.State, ev)
	if err != nil {
		return t.fail(*sess, err)
	}
	sess.State = to
	return t.reply(to, sess.ID, text)
}

// stay answers without changing state.
func (t *turn) stay(sess *Session, text string) Reply {
	return t.reply(sess.State, sess.ID, text)
}

func (t *turn) stayErr(sess *Session, err error, text string) Reply {
	return t.replyErr(sess.State, sess.ID, err, text)
}

// step handles every in-memory turn on a live session.
func (t *turn) step(sess *Session, cmd command) Reply {
	switch cmd.kind {
	case cmdShow:
		return t.show(sess)
	case cmdDiff:
		return t.diff(sess)
	case cmdUnknown:
		return t.stay(sess, fmt.Sprintf("未知指令：%s\n\n%s", cmd.arg, helpText))
	}

	if sess.State == Started {
		switch cmd.kind {
		case cmdAdd:
			return t.add(sess, cmd.arg)
		case cmdModify:
			sess.clearPending()
			return t.advance(sess, EvModify, locatePrompt)
		case cmdEdit:
			return t.edit(sess, cmd)
		case cmdConfirm:
			return t.confirm(sess)
		case cmdNone:
			return t.paste(sess)
		}
	}

	if cmd.kind != cmdNone {
		return t.stay(sess, "当前步骤尚未完成："+prompt(sess)+"\n如需放弃请 /pr cancel")
	}

	text := strings.TrimSpace(t.msg.Text)
	switch sess.State {
	case AwaitingSectionTitle:
		return t.sectionTitle(sess, text)
	case AwaitingBody:
		return t.body(sess, text)
	case AwaitingLocateText:
		return t.locate(sess, text)
	case AwaitingDisambiguation:
		return t.choose(sess, text)
	case AwaitingReplacement:
		return t.replace(sess, text)
	case AwaitingSignDecision:
		return t.signDecision(sess, text)
	case AwaitingSignName:
		return t.signName(sess, text)
	case AwaitingSignLink:
		return t.signLink(sess, text)
	case AwaitingConfirm:
		return t.stay(sess, "请回复：确认 或 取消")
	}
	return t.stay(sess, prompt(sess))
}

func (t *turn) show(sess *Session) Reply {
	var segs []render.Segment
	for s := range render.Render(sess.Doc, t.budget) {
		segs = append(segs, s)
	}
	footer := "指令：/pr add <章节标题>、/pr modify、/pr edit <章节标题> <序号>、/pr diff、/pr confirm"
	if sess.State != Started {
		footer = "当前步骤：" + prompt(sess)
	}
	segs = append(segs, t.notice(footer)...)
	return Reply{SessionID: sess.ID, State: sess.State, Segments: segs}
}

func (t *turn) diff(sess *Session) Reply {
	if sess.Edits == 0 {
		return t.stay(sess, "尚未做任何修改")
	}
	pv, err := t.e.submitter.DryRun(t.request(sess))
	if err != nil {
		return t.stayErr(sess, err, fmt.Sprintf("生成差异失败：%v", err))
	}
	segs := t.notice("修改记录：\n" + strings.Join(sess.Log, "\n"))
	if pv.Diff != "" {
		segs = append(segs, render.Chunk("差异", pv.Diff, render.TagNotice, t.budget)...)
	}
	return Reply{SessionID: sess.ID, State: sess.State, Segments: segs}
}

func (t *turn) request(sess *Session) submit.Request {
	return submit.Request{
		Identity: sess.Repo,
		Document: sess.Doc,
		Base:     sess.Base,
		Changes:  sess.Log,
		UserID:   sess.Key.User,
		Scope:    sess.Key.Scope,
	}
}

// --- add ---

func (t *turn) add(sess *Session, title string) Reply {
	sess.clearPending()
	if title == "" {
		return t.advance(sess, EvAdd, titlePrompt(sess))
	}
	if err := t.setSection(sess, title); err != "" {
		return t.stay(sess, err)
	}
	return t.advance(sess, EvAddTitled, bodyPrompt(sess))
}

// setSection records the append target. Multi-project documents address a
// section as "<子课程>/<章节标题>"; with a single sub-course the prefix may
// be omitted.
func (t *turn) setSection(sess *Session, arg string) string {
	arg = strings.TrimSpace(arg)
	d, ok := sess.Doc.(document.MultiProject)
	if !ok {
		sess.Pending.SectionTitle = arg
		sess.Pending.Course = -1
		return ""
	}
	ci, title, ok := courseSection(d, arg)
	if !ok {
		return "多项目仓库请按 <子课程>/<章节标题> 指定位置，例如：音乐鉴赏/考核"
	}
	sess.Pending.SectionTitle = title
	sess.Pending.Course = ci
	return ""
}

func courseSection(d document.MultiProject, arg string) (int, string, bool) {
	if name, title, ok := strings.Cut(arg, "/"); ok {
		ci := document.FindCourse(d, strings.TrimSpace(name))
		title = strings.TrimSpace(title)
		if ci < 0 || title == "" {
			return -1, "", false
		}
		return ci, title, true
	}
	if len(d.Courses) == 1 && arg != "" {
		return 0, arg, true
	}
	return -1, "", false
}

func (t *turn) sectionTitle(sess *Session, text string) Reply {
	if text == "" {
		return t.stay(sess, "章节标题不能为空，请重新发送")
	}
	if err := t.setSection(sess, text); err != "" {
		return t.stay(sess, err)
	}
	return t.advance(sess, EvText, bodyPrompt(sess))
}

func (t *turn) body(sess *Session, text string) Reply {
	if text == "" {
		return t.stay(sess, "内容不能为空，请重新发送")
	}
	var (
		res patch.Result
		err error
	)
	if sess.Pending.Course >= 0 {
		res, err = patch.AppendToCourse(sess.Doc, sess.Pending.Course, sess.Pending.SectionTitle, text, nil)
	} else {
		res, err = patch.Append(sess.Doc, sess.Pending.SectionTitle, text, nil)
	}
	if err != nil {
		sess.clearPending()
		r := t.advance(sess, EvText, fmt.Sprintf("添加失败：%v", err))
		r.Err = err
		return r
	}

	where := render.Describe(res.Document, res.Path)
	sess.Doc = res.Document
	sess.touch(res.Path, fmt.Sprintf("#%d 新增 %s", sess.Edits+1, where))
	sess.clearPending()
	return t.advance(sess, EvText, fmt.Sprintf("已添加：%s（共 %d 处修改）\n%s", where, sess.Edits, nextHint))
}

// --- modify / edit ---

func (t *turn) locate(sess *Session, text string) Reply {
	if text == "" {
		return t.stay(sess, locatePrompt)
	}
	res, err := t.e.locator.Locate(sess.Doc, text)
	if errors.Is(err, models.ErrNotFound) {
		r := t.advance(sess, EvNotFound, "未定位到匹配条目。请确认复制的是仓库里的原文，或提供更长的片段。")
		r.Err = err
		return r
	}
	if err != nil {
		return t.stayErr(sess, err, fmt.Sprintf("定位失败：%v", err))
	}

	sess.Pending.Query = text
	if len(res.Candidates) == 1 {
		loc := res.Candidates[0].Location
		sess.Pending.Target = &loc
		return t.advance(sess, EvUnique, t.targetText(sess, "已定位到"))
	}

	sess.Pending.Candidates = res.Candidates
	sess.Pending.Total = res.Total
	lines := []string{"找到多个匹配，请回复序号选择："}
	for i, c := range res.Candidates {
		lines = append(lines, fmt.Sprintf("%d) %s", i+1, c.Label()))
	}
	if res.Truncated() {
		lines = append(lines, fmt.Sprintf("（仅展示前 %d 个，共 %d 个匹配；建议提供更长原文缩小范围）", len(res.Candidates), res.Total))
	}
	r := t.advance(sess, EvAmbiguous, strings.Join(lines, "\n"))
	r.Err = models.ErrAmbiguous
	return r
}

func (t *turn) choose(sess *Session, text string) Reply {
	n, err := strconv.Atoi(text)
	if err != nil {
		return t.stay(sess, "请回复数字序号（例如 1）")
	}
	if n <= 0 || n > len(sess.Pending.Candidates) {
		return t.stay(sess, fmt.Sprintf("序号超出范围，请回复 1-%d", len(sess.Pending.Candidates)))
	}
	loc := sess.Pending.Candidates[n-1].Location
	sess.Pending.Target = &loc
	sess.Pending.Candidates = nil
	return t.advance(sess, EvChoose, t.targetText(sess, "已选择"))
}

func (t *turn) edit(sess *Session, cmd command) Reply {
	if cmd.err != "" {
		return t.stay(sess, cmd.err)
	}
	sess.clearPending()
	if err := t.setSection(sess, cmd.arg); err != "" {
		return t.stay(sess, err)
	}
	title := sess.Pending.SectionTitle

	var (
		sections []document.Section
		p        document.Path
	)
	switch d := sess.Doc.(type) {
	case document.Normal:
		sections = d.Sections
		p = document.Path{Region: document.RegionSectionItem}
	case document.MultiProject:
		sections = d.Courses[sess.Pending.Course].Sections
		p = document.Path{Region: document.RegionCourseSectionItem, Course: sess.Pending.Course}
	}
	si := document.LastSection(sections, title)
	if si < 0 {
		sess.clearPending()
		return t.stayErr(sess, models.ErrNotFound, fmt.Sprintf("未找到章节《%s》", title))
	}
	if cmd.index >= len(sections[si].Items) {
		sess.clearPending()
		return t.stayErr(sess, models.ErrNotFound, fmt.Sprintf("章节《%s》只有 %d 条内容", title, len(sections[si].Items)))
	}
	p.Section, p.Item = si, cmd.index

	loc, err := document.Bind(sess.Doc, p)
	if err != nil {
		sess.clearPending()
		return t.stayErr(sess, err, fmt.Sprintf("定位失败：%v", err))
	}
	sess.Pending.Target = &loc
	return t.advance(sess, EvEdit, t.targetText(sess, "将修改（按序号）"))
}

func (t *turn) targetText(sess *Session, verb string) string {
	loc := *sess.Pending.Target
	current, _ := document.Resolve(sess.Doc, loc)
	return fmt.Sprintf("%s：%s\n当前内容（截断）：\n%s\n\n请下一条消息发送修改后的完整正文。",
		verb, render.Describe(sess.Doc, loc.Path), clip(current, previewRunes))
}

func (t *turn) replace(sess *Session, text string) Reply {
	if text == "" {
		return t.stay(sess, "修改后的正文不能为空")
	}
	if sess.Pending.Target == nil {
		sess.clearPending()
		return t.advance(sess, EvText, "状态异常：缺少修改目标，请重新 /pr modify")
	}
	loc := *sess.Pending.Target
	old, _ := document.Resolve(sess.Doc, loc)

	res, err := patch.Replace(sess.Doc, loc, text, nil)
	sess.clearPending()
	if err != nil {
		msg := fmt.Sprintf("修改失败：%v", err)
		if errors.Is(err, models.ErrStaleLocation) {
			msg = "定位已失效（文档已变化），请重新 /pr modify"
		}
		r := t.advance(sess, EvText, msg)
		r.Err = err
		return r
	}

	where := render.Describe(res.Document, res.Path)
	sess.Doc = res.Document
	sess.touch(res.Path, fmt.Sprintf("#%d 修改 %s", sess.Edits+1, where))
	return t.advance(sess, EvText, fmt.Sprintf("已修改：%s\n原段落（截断）：\n%s\n\n新段落（截断）：\n%s\n\n%s",
		where, clip(old, previewRunes), clip(text, previewRunes), nextHint))
}

// --- paste ---

// paste treats free text in Started as a whole readme.toml.
func (t *turn) paste(sess *Session) Reply {
	raw := t.msg.Text
	if strings.TrimSpace(raw) == "" {
		return t.stay(sess, helpText)
	}
	doc, err := document.Parse(raw)
	if err != nil {
		if looksLikeDocument(raw) {
			return t.stayErr(sess, err, fmt.Sprintf("解析 TOML 失败：%v\n请重新粘贴完整 readme.toml", err))
		}
		return t.stay(sess, "未识别的输入。\n"+startHint)
	}

	sess.Doc = doc
	sess.Edits++
	sess.Log = append(sess.Log, fmt.Sprintf("#%d 整篇替换 readme.toml", sess.Edits))
	sess.Touched = changedLeaves(sess.Base, doc)
	sess.clearPending()
	return t.advance(sess, EvPaste, fmt.Sprintf("已接收完整 readme.toml（%d 处条目有变化）。\n%s", len(sess.Touched), signPrompt))
}

func looksLikeDocument(s string) bool {
	for _, marker := range []string{"course_code", "repo_type", "[[", "description ="} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// changedLeaves lists the leaves of after that are new or differ from
// before at the same path.
func changedLeaves(before, after document.Document) []document.Path {
	old := make(map[document.Path]string)
	if before != nil {
		for _, l := range document.Leaves(before) {
			old[l.Location.Path] = l.Text
		}
	}
	var out []document.Path
	for _, l := range document.Leaves(after) {
		if text, ok := old[l.Location.Path]; !ok || text != l.Text {
			out = append(out, l.Location.Path)
		}
	}
	return out
}

// --- confirm and signature ---

func (t *turn) confirm(sess *Session) Reply {
	if sess.Edits == 0 {
		return t.stay(sess, "尚未做任何修改，无需提交。可 /pr add 或 /pr modify 修改后再 /pr confirm")
	}
	sess.clearPending()
	return t.advance(sess, EvConfirm, signPrompt)
}

func (t *turn) signDecision(sess *Session, text string) Reply {
	switch a := answer(text); {
	case yesWords[a]:
		return t.advance(sess, EvYes, fmt.Sprintf("请输入显示名字（发送“-”则用：%s）", t.senderName()))
	case noWords[a]:
		sess.Signature = document.Author{}
		return t.toConfirm(sess, EvNo, "好的，不留名。")
	default:
		return t.stay(sess, "请回复 y 或 n")
	}
}

func (t *turn) signName(sess *Session, text string) Reply {
	name := text
	if skipWords[answer(text)] {
		name = t.senderName()
	}
	sess.Signature = document.Author{Name: name}
	return t.advance(sess, EvText, "可选：请输入你的主页链接（GitHub/博客等），发送“-”则不填")
}

func (t *turn) signLink(sess *Session, text string) Reply {
	link := text
	if skipWords[answer(text)] {
		link = ""
	}
	now := t.e.now()
	sess.Signature.Link = link
	sess.Signature.Date = fmt.Sprintf("%04d-%02d", now.Year(), int(now.Month()))

	res, err := patch.Sign(sess.Doc, sess.Touched, sess.Signature)
	if err != nil {
		return t.stayErr(sess, err, fmt.Sprintf("署名失败：%v", err))
	}
	sess.Doc = res.Document
	sess.Log = append(sess.Log, fmt.Sprintf("署名 %s（%d 处条目）", sess.Signature.Name, len(sess.Touched)))
	return t.toConfirm(sess, EvText, "收到。")
}

func (t *turn) senderName() string {
	if n := strings.TrimSpace(t.msg.SenderName); n != "" {
		return n
	}
	return t.msg.User
}

// toConfirm moves to AwaitingConfirm and shows the dry-run preview.
func (t *turn) toConfirm(sess *Session, ev Event, lead string) Reply {
	pv, err := t.e.submitter.DryRun(t.request(sess))
	if err != nil {
		return t.stayErr(sess, err, fmt.Sprintf("生成预览失败：%v", err))
	}
	r := t.advance(sess, ev, fmt.Sprintf("%s\n即将提交到《%s》（%s）：\n%s\n\n回复：确认 / 取消（/pr diff 查看完整差异）",
		lead, sess.Repo.CourseName, sess.Repo.CourseCode, strings.Join(pv.Changes, "\n")))
	return r
}

func clip(s string, limit int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
