package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hitsz-openauto/hoa-pr/internal/models"
	"github.com/hitsz-openauto/hoa-pr/internal/output"
	"github.com/hitsz-openauto/hoa-pr/internal/store"
)

var (
	submissionsRepo    string
	submissionsUser    string
	submissionsOutcome string
	submissionsLimit   int
)

var submissionsCmd = &cobra.Command{
	Use:   "submissions",
	Short: "Show the submission log",
	RunE: func(cmd *cobra.Command, args []string) error {
		return submissionsRun()
	},
}

var submissionsPRsCmd = &cobra.Command{
	Use:   "prs",
	Short: "Show pull requests recorded in the local ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		return trackedPRsRun()
	},
}

func init() {
	submissionsCmd.Flags().StringVar(&submissionsRepo, "repo", "", "filter by repository")
	submissionsCmd.Flags().StringVar(&submissionsUser, "user", "", "filter by user id")
	submissionsCmd.Flags().StringVar(&submissionsOutcome, "outcome", "", "filter by outcome (submitted, denied, failed)")
	submissionsCmd.Flags().IntVar(&submissionsLimit, "limit", 50, "maximum rows")
	submissionsCmd.AddCommand(submissionsPRsCmd)
	rootCmd.AddCommand(submissionsCmd)
}

func submissionsRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	subs, err := s.ListSubmissions(context.Background(), store.SubmissionListFilter{
		RepoName: submissionsRepo,
		UserID:   submissionsUser,
		Outcome:  models.SubmissionOutcome(submissionsOutcome),
		Limit:    submissionsLimit,
	})
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		ui.Info("No submissions recorded.")
		return nil
	}

	table := ui.Table([]string{"When", "Repo", "User", "Outcome", "PR / Reason"})
	for _, sub := range subs {
		detail := sub.PRRef
		if sub.Outcome != models.SubmissionSubmitted {
			detail = sub.Reason
		}
		table.Append([]string{
			sub.CreatedAt.Local().Format("2006-01-02 15:04"),
			output.Cyan(sub.RepoName),
			sub.UserID,
			output.OutcomeColor(string(sub.Outcome)),
			detail,
		})
	}
	table.Render()
	return nil
}

func trackedPRsRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	prs, err := s.ListTrackedPRs(context.Background())
	if err != nil {
		return err
	}
	if len(prs) == 0 {
		ui.Info("No pull requests in the local ledger.")
		return nil
	}

	table := ui.Table([]string{"Repo", "Course", "PR", "Updates", "Revision", "Updated"})
	for _, pr := range prs {
		table.Append([]string{
			output.Cyan(pr.RepoKey),
			pr.CourseName,
			pr.PRRef,
			fmt.Sprintf("%d", pr.Updates),
			pr.Revision,
			pr.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	table.Render()
	return nil
}
