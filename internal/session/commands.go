package session

import (
	"strconv"
	"strings"
)

type cmdKind int

const (
	cmdNone cmdKind = iota // free text
	cmdHelp
	cmdStart
	cmdShow
	cmdAdd
	cmdModify
	cmdEdit
	cmdDiff
	cmdConfirm
	cmdCancel
	cmdUnknown
)

type command struct {
	kind cmdKind
	arg  string
	// edit <title> <n>
	index int
	err   string
}

var subcommands = map[string]cmdKind{
	"help":    cmdHelp,
	"start":   cmdStart,
	"show":    cmdShow,
	"view":    cmdShow,
	"add":     cmdAdd,
	"modify":  cmdModify,
	"mod":     cmdModify,
	"edit":    cmdEdit,
	"diff":    cmdDiff,
	"confirm": cmdConfirm,
	"cancel":  cmdCancel,
}

// parseCommand recognizes "/pr <sub> [args]" and "pr <sub> [args]". A bare
// "pr" word followed by an unknown subcommand is free text; with the slash
// it is an unknown command.
func parseCommand(text string) command {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return command{kind: cmdNone}
	}
	lead := strings.ToLower(fields[0])
	if lead != "/pr" && lead != "pr" {
		return command{kind: cmdNone}
	}
	if len(fields) == 1 {
		return command{kind: cmdHelp}
	}

	kind, ok := subcommands[strings.ToLower(fields[1])]
	if !ok {
		if lead == "/pr" {
			return command{kind: cmdUnknown, arg: fields[1]}
		}
		return command{kind: cmdNone}
	}
	cmd := command{kind: kind, arg: strings.Join(fields[2:], " ")}

	if kind == cmdEdit {
		args := fields[2:]
		if len(args) < 2 {
			cmd.err = "用法：/pr edit <章节标题> <序号>"
			return cmd
		}
		n, err := strconv.Atoi(args[len(args)-1])
		if err != nil {
			cmd.err = "序号必须是数字，例如：/pr edit 关于考试 1"
			return cmd
		}
		if n <= 0 {
			cmd.err = "序号从 1 开始"
			return cmd
		}
		cmd.arg = strings.Join(args[:len(args)-1], " ")
		cmd.index = n - 1
	}
	return cmd
}

var (
	yesWords     = wordSet("y", "yes", "是", "要", "留", "留名")
	noWords      = wordSet("n", "no", "否", "不要", "不留")
	confirmWords = wordSet("确认", "confirm", "y", "yes", "是")
	cancelWords  = wordSet("取消", "cancel", "c", "n", "no")
	// answers meaning "leave this empty" where chat cannot send an empty message
	skipWords = wordSet("", "-", "无", "跳过", "skip")
)

func wordSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

func answer(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
