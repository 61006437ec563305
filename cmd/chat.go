package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitsz-openauto/hoa-pr/internal/output"
	"github.com/hitsz-openauto/hoa-pr/internal/session"
)

// blockFence opens and closes a multi-line message in the REPL.
const blockFence = `"""`

var (
	chatUser  string
	chatScope string
	chatName  string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run the PR conversation interactively in the terminal",
	Long: `Run the PR conversation in the terminal, one line per message.

To paste a whole readme.toml, put it between two lines containing only """.
Type /pr for help and exit (or Ctrl-D) to quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		d, err := buildDeps(ctx)
		if err != nil {
			return err
		}
		defer closeStore()
		return chatLoop(ctx, d.engine, os.Stdin, ui.Out)
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", "", "user id (default: OS user name)")
	chatCmd.Flags().StringVar(&chatScope, "scope", "cli", "conversation scope")
	chatCmd.Flags().StringVar(&chatName, "name", "", "display name used as the default signature")
	rootCmd.AddCommand(chatCmd)
}

func chatIdentity() string {
	if chatUser != "" {
		return chatUser
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "cli"
}

// chatLoop feeds every message read from in to the engine and prints the
// reply segments.
func chatLoop(ctx context.Context, engine *session.Engine, in io.Reader, out io.Writer) error {
	who := chatIdentity()
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	state := session.Idle
	for {
		fmt.Fprintf(out, "%s> ", output.Cyan(state.String()))
		text, ok := readMessage(sc)
		if !ok {
			fmt.Fprintln(out)
			return sc.Err()
		}
		switch strings.TrimSpace(text) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		reply := engine.Handle(ctx, session.Message{
			User:       who,
			Scope:      chatScope,
			SenderName: chatName,
			Text:       text,
		})
		state = reply.State
		for _, seg := range reply.Segments {
			fmt.Fprintln(out, seg.Text)
			fmt.Fprintln(out)
		}
		if reply.Err != nil {
			ui.VerboseLog("error: %v", reply.Err)
		}
	}
}

// readMessage reads one line, or a fenced block of lines, from sc.
func readMessage(sc *bufio.Scanner) (string, bool) {
	if !sc.Scan() {
		return "", false
	}
	line := sc.Text()
	if strings.TrimSpace(line) != blockFence {
		return line, true
	}
	var lines []string
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == blockFence {
			return strings.Join(lines, "\n"), true
		}
		lines = append(lines, sc.Text())
	}
	// unterminated block: send what was read
	return strings.Join(lines, "\n"), len(lines) > 0
}
