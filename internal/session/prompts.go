package session

import (
	"fmt"

	"github.com/hitsz-openauto/hoa-pr/internal/document"
)

const helpText = `PR 提交
1) /pr start <课程代码或名称>  进入流程，例如 /pr start AUTO2001
2) /pr show  分段展示全文
3) /pr add [章节标题]  向章节追加一条内容（标题可省略，按提示输入）
4) /pr modify  粘贴原段落定位后修改
5) /pr edit <章节标题> <序号>  按序号修改
6) /pr diff  查看修改记录与差异
7) /pr confirm  署名、合规审核并创建或更新 PR
也可以在 start 之后直接粘贴完整 readme.toml 整篇替换。
取消：/pr cancel`

const startHint = `你可以：
- 用 /pr show 查看全文
- 用 /pr add、/pr modify、/pr edit 做结构化修改
- 或直接下一条消息粘贴完整 readme.toml（整篇替换）
提交前会先做合规审核，未通过将拒绝提交。`

const nextHint = "可继续 /pr add、/pr modify，或 /pr confirm 提交。"

const locatePrompt = "请下一条消息粘贴你要修改的“原段落”（尽量原样复制，越长越好，便于定位）。\n" +
	"支持 description、sections/items、lecturers.reviews，以及 multi-project 的子课程段落。"

const signPrompt = "是否在修改的条目 author 中留名？回复 y/n"

func titlePrompt(sess *Session) string {
	if _, ok := sess.Doc.(document.MultiProject); ok {
		return "请发送要追加到的位置：<子课程>/<章节标题>（已有标题或新建标题均可）。"
	}
	return "请发送要追加到的章节标题（已有标题或新建标题均可）。"
}

func bodyPrompt(sess *Session) string {
	return fmt.Sprintf("将向章节《%s》追加一条内容。\n请下一条消息发送要添加的正文（不要带多余解释）。", sess.Pending.SectionTitle)
}

// prompt repeats the question the session is waiting on.
func prompt(sess *Session) string {
	switch sess.State {
	case Started:
		return startHint
	case AwaitingSectionTitle:
		return titlePrompt(sess)
	case AwaitingBody:
		return bodyPrompt(sess)
	case AwaitingLocateText:
		return locatePrompt
	case AwaitingDisambiguation:
		return fmt.Sprintf("请回复 1-%d 的序号选择要修改的条目", len(sess.Pending.Candidates))
	case AwaitingReplacement:
		return "请发送修改后的完整正文"
	case AwaitingSignDecision:
		return signPrompt
	case AwaitingSignName:
		return "请输入显示名字"
	case AwaitingSignLink:
		return "请输入主页链接，发送“-”则不填"
	case AwaitingConfirm:
		return "回复：确认 / 取消"
	default:
		return helpText
	}
}
