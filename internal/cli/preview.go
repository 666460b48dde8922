package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"famcomp/internal/config"
	"famcomp/internal/task/scheduler"
)

type previewOptions struct {
	from     string
	to       string
	max      int
	timezone string
}

func newPreviewCmd() *cobra.Command {
	var o previewOptions
	cmd := &cobra.Command{
		Use:   "preview <cron>",
		Short: "List the fire times of a cron expression",
		Example: `  famcomp preview "0 20 * * *"
  famcomp preview "30 8 * * 1-5" --from 2024-03-04T00:00:00Z --to 2024-03-11T00:00:00Z
  famcomp preview "@weekly" --max 4 --tz Europe/Paris`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.timezone == "" {
				tz, err := configuredTimezone(flagConfig)
				if err != nil {
					return err
				}
				o.timezone = tz
			}
			dates, err := o.run(args[0], time.Now())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(dates) == 0 {
				fmt.Fprintln(out, "no occurrences in window")
				return nil
			}
			for _, d := range dates {
				fmt.Fprintln(out, d.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&o.from, "from", "", "window start, RFC 3339 (default now)")
	cmd.Flags().StringVar(&o.to, "to", "", "window end, RFC 3339 (default from + 7 days)")
	cmd.Flags().IntVar(&o.max, "max", 20, "maximum number of dates")
	cmd.Flags().StringVar(&o.timezone, "tz", "", "IANA timezone the schedule runs in (default scheduler.timezone from --config, then local)")
	return cmd
}

// configuredTimezone reads scheduler.timezone from the config file. A missing
// file yields the empty (local) zone.
func configuredTimezone(path string) (string, error) {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return strings.TrimSpace(cfg.Scheduler.Timezone), nil
}

func (o previewOptions) run(expr string, now time.Time) ([]time.Time, error) {
	loc := time.Local
	if o.timezone != "" {
		l, err := time.LoadLocation(o.timezone)
		if err != nil {
			return nil, fmt.Errorf("--tz: %w", err)
		}
		loc = l
	}
	from := now.In(loc)
	if o.from != "" {
		t, err := time.Parse(time.RFC3339, o.from)
		if err != nil {
			return nil, fmt.Errorf("--from: %w", err)
		}
		from = t.In(loc)
	}
	to := from.Add(7 * 24 * time.Hour)
	if o.to != "" {
		t, err := time.Parse(time.RFC3339, o.to)
		if err != nil {
			return nil, fmt.Errorf("--to: %w", err)
		}
		to = t.In(loc)
	}
	if !to.After(from) {
		return nil, fmt.Errorf("--to must be after --from")
	}
	if o.max <= 0 || o.max > scheduler.MaxPreviewDates {
		return nil, fmt.Errorf("--max must be between 1 and %d", scheduler.MaxPreviewDates)
	}
	return scheduler.NextOccurrences(expr, from, to, o.max)
}
