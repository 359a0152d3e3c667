package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"podium/internal/content"
	"podium/internal/domain"
)

func newActivitiesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "activities",
		Short: "List the practice activities",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			loader, err := a.loader()
			if err != nil {
				return err
			}
			catalog, err := content.Load(loader.Config().Content.CatalogPath)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			for _, activity := range catalog.List() {
				params := ""
				for i, p := range activity.Params {
					if i > 0 {
						params += ","
					}
					params += p.Name
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", activity.ID, content.Describe(activity), params)
			}
			return w.Flush()
		},
	}
}

func newProgressCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Show practice totals and streaks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader, err := a.loader()
			if err != nil {
				return err
			}
			services, err := a.build(cmd.Context(), loader, true)
			if err != nil {
				return err
			}
			defer services.Close()

			progress, err := services.Store.GetProgress(cmd.Context(), services.Config.UserID)
			if errors.Is(err, domain.ErrNotFound) {
				fmt.Fprintln(a.out, "No sessions yet.")
				return nil
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Sessions\t%d\n", progress.TotalSessions)
			fmt.Fprintf(w, "Rounds\t%d\n", progress.TotalRounds)
			fmt.Fprintf(w, "Practice time\t%s\n", (time.Duration(progress.TotalPracticeMs) * time.Millisecond).Round(time.Second))
			fmt.Fprintf(w, "Practice days\t%d\n", progress.PracticeDays)
			fmt.Fprintf(w, "Current streak\t%d\n", progress.CurrentStreak)
			fmt.Fprintf(w, "Longest streak\t%d\n", progress.LongestStreak)
			if progress.LastPracticeDate != "" {
				fmt.Fprintf(w, "Last practice\t%s\n", progress.LastPracticeDate)
			}
			for _, id := range progress.TopActivities() {
				fmt.Fprintf(w, "  %s\t%d\n", id, progress.ActivityCounts[id])
			}
			return w.Flush()
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader, err := a.loader()
			if err != nil {
				return err
			}
			services, err := a.build(cmd.Context(), loader, true)
			if err != nil {
				return err
			}
			defer services.Close()

			records, err := services.Store.ListSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(a.out, "No sessions yet.")
				return nil
			}

			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tACTIVITY\tROUNDS\tSCORE\tSTATUS\tSESSION")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%.0f\t%s\t%s\n",
					rec.StartedAt.Local().Format("2006-01-02 15:04"),
					rec.ActivityID,
					len(rec.Rounds),
					rec.AggregateScore,
					recordStatus(rec),
					rec.ID,
				)
				for _, round := range rec.Rounds {
					fmt.Fprintf(w, "\t  round %d\t%s\t\t\t%s\n", round.Round, formatMs(round.DurationMs), round.RecordingID)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")
	return cmd
}

func recordStatus(rec domain.SessionRecord) string {
	switch {
	case rec.Completed && rec.FinishedEarly:
		return "finished early"
	case rec.Completed:
		return "completed"
	default:
		return "in progress"
	}
}

func formatMs(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(100 * time.Millisecond).String()
}
