package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hitsz-openauto/hoa-pr/internal/catalog"
	"github.com/hitsz-openauto/hoa-pr/internal/models"
	"github.com/hitsz-openauto/hoa-pr/internal/output"
)

var coursesCmd = &cobra.Command{
	Use:     "courses",
	Aliases: []string{"course"},
	Short:   "Manage the local course catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		return coursesListRun()
	},
}

var coursesImportCmd = &cobra.Command{
	Use:   "import [dir]",
	Short: "Index readme.toml documents from a directory tree",
	Long: `Walk dir (default: courses_dir) and record every course found in its
readme.toml files. A nicknames.yaml or nicknames.json at the root maps
informal names to course codes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := viper.GetString("courses_dir")
		if len(args) == 1 {
			dir = args[0]
		}
		return coursesImportRun(dir)
	},
}

var coursesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List catalog courses",
	RunE: func(cmd *cobra.Command, args []string) error {
		return coursesListRun()
	},
}

var coursesResolveCmd = &cobra.Command{
	Use:   "resolve <ref>",
	Short: "Show the repository a course reference resolves to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return coursesResolveRun(args[0])
	},
}

var nickCmd = &cobra.Command{
	Use:   "nick",
	Short: "Manage course nicknames",
	RunE: func(cmd *cobra.Command, args []string) error {
		return nickListRun()
	},
}

var nickAddCmd = &cobra.Command{
	Use:   "add <nickname> <course-code>",
	Short: "Map a nickname to a course code",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return nickAddRun(args[0], args[1])
	},
}

var nickListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List nicknames",
	RunE: func(cmd *cobra.Command, args []string) error {
		return nickListRun()
	},
}

var nickRemoveCmd = &cobra.Command{
	Use:     "rm <nickname>",
	Aliases: []string{"remove"},
	Short:   "Remove a nickname",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return nickRemoveRun(args[0])
	},
}

func init() {
	nickCmd.AddCommand(nickAddCmd, nickListCmd, nickRemoveCmd)
	coursesCmd.AddCommand(coursesImportCmd, coursesListCmd, coursesResolveCmd, nickCmd)
	rootCmd.AddCommand(coursesCmd)
}

func coursesImportRun(dir string) error {
	if dir == "" {
		return fmt.Errorf("no directory given and courses_dir is not set")
	}
	if dryRun {
		ui.DryRunMsg("Would import courses from %s", dir)
		return nil
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	res, err := catalog.Import(context.Background(), s, dir)
	if err != nil {
		return err
	}
	for _, r := range res.Results {
		if r.Error != "" {
			ui.Warning("%s: %s", r.Path, r.Error)
			continue
		}
		ui.VerboseLog("%s: %s %v", r.Repo, r.Path, r.Courses)
	}
	ui.Success("Imported %d/%d documents (%d failed), %d nicknames", res.Imported, res.Total, res.Failed, res.Nicknames)
	return nil
}

func coursesListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	courses, err := s.ListCourses(context.Background())
	if err != nil {
		return err
	}
	if len(courses) == 0 {
		ui.Info("No courses in the catalog. Use 'hoa-pr courses import <dir>' to add some.")
		return nil
	}

	table := ui.Table([]string{"Code", "Name", "Repo", "Type", "Parent"})
	for _, c := range courses {
		table.Append([]string{
			output.Cyan(c.CourseCode),
			c.CourseName,
			c.RepoName,
			c.RepoType,
			c.ParentCode,
		})
	}
	table.Render()
	return nil
}

func coursesResolveRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	id, err := catalog.NewResolver(s).Resolve(context.Background(), ref)
	if errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("course %q not found", ref)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(ui.Out, "%s  %s  repo=%s  type=%s\n", output.Cyan(id.CourseCode), id.CourseName, id.RepoName, id.RepoType)
	return nil
}

func nickAddRun(nick, code string) error {
	if dryRun {
		ui.DryRunMsg("Would map %q to %s", nick, code)
		return nil
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	if err := catalog.NewResolver(s).AddNickname(context.Background(), nick, code); err != nil {
		return err
	}
	ui.Success("Nickname %q -> %s", nick, code)
	return nil
}

func nickListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	nicks, err := s.ListNicknames(context.Background())
	if err != nil {
		return err
	}
	if len(nicks) == 0 {
		ui.Info("No nicknames. Use 'hoa-pr courses nick add <nickname> <code>'.")
		return nil
	}
	table := ui.Table([]string{"Nickname", "Code"})
	for _, n := range nicks {
		table.Append([]string{n.Nick, output.Cyan(n.CourseCode)})
	}
	table.Render()
	return nil
}

func nickRemoveRun(nick string) error {
	if dryRun {
		ui.DryRunMsg("Would remove nickname %q", nick)
		return nil
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.DeleteNickname(context.Background(), nick); err != nil {
		return err
	}
	ui.Success("Removed nickname %q", nick)
	return nil
}
