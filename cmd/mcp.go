package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/hitsz-openauto/hoa-pr/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio so an assistant
can drive the PR conversation and inspect documents. Configure it with:

  {
    "mcpServers": {
      "hoa-pr": { "command": "hoa-pr", "args": ["mcp"] }
    }
  }

Available tools: hoa_pr_message, hoa_pr_sessions, hoa_pr_render,
hoa_pr_locate, hoa_pr_list_courses, hoa_pr_resolve_course`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		// stdout carries the protocol
		ui.Out = os.Stderr
		d, err := buildDeps(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		return mcp.NewServer(d.engine, d.resolver, d.locator, d.budget, buildVersion).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
