package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/tally/reminder"
)

// timelineEntry is one reminder date relative to a due date.
type timelineEntry struct {
	Type reminder.Type `json:"type" yaml:"type"`
	Days int           `json:"days" yaml:"days"`
	Date string        `json:"date" yaml:"date"`
}

func newTimelineCmd(c *cli) *cobra.Command {
	var (
		due    string
		output string
	)

	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Print the reminder dates for an invoice due date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dueDate, err := time.Parse(time.DateOnly, due)
			if err != nil {
				return fmt.Errorf("due %q: want YYYY-MM-DD", due)
			}
			sched, err := c.cfg.Schedule()
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), output, timeline(sched, dueDate))
		},
	}

	cmd.Flags().StringVar(&due, "due", "", "Invoice due date (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "Output format: json, yaml")
	_ = cmd.MarkFlagRequired("due") //nolint:errcheck // flag defined above

	return cmd
}

func timeline(s reminder.Schedule, due time.Time) []timelineEntry {
	dates := s.Dates(due)
	out := make([]timelineEntry, 0, len(s))
	for _, o := range s.Sorted() {
		out = append(out, timelineEntry{
			Type: o.Type,
			Days: o.Days,
			Date: dates[o.Type].Format(time.DateOnly),
		})
	}
	return out
}
