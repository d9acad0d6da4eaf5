package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"opsboard/internal/calendar"
	"opsboard/internal/domain"
	"opsboard/internal/engine"
	"opsboard/internal/repo"
)

func templateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "template", Short: "Manage recurring task templates"}
	cmd.AddCommand(templateCreateCmd())
	cmd.AddCommand(templateListCmd())
	cmd.AddCommand(templateShowCmd())
	cmd.AddCommand(templateUpdateCmd())
	return cmd
}

func templateCreateCmd() *cobra.Command {
	var opts engine.TemplateCreateOptions
	var evidence bool
	var onComplete, onSkip int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a template",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.EvidenceRequired = optionalBool(cmd, "evidence", evidence)
			opts.PointsOnComplete = optionalInt(cmd, "points-complete", onComplete)
			opts.PointsOnSkip = optionalInt(cmd, "points-skip", onSkip)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = actorID()
				t, err := e.CreateTemplate(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "template id (generated when empty)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.DoD, "dod", "", "definition of done")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "owner id")
	cmd.Flags().StringVar(&opts.ChannelID, "channel", "", "channel id")
	cmd.Flags().StringVar(&opts.TimeOfDay, "time", "", "time of day HH:MM")
	cmd.Flags().StringSliceVar(&opts.Weekdays, "weekdays", nil, "weekdays: MON..SUN, WEEKDAYS or ALL")
	cmd.Flags().BoolVar(&opts.IsCritical, "critical", false, "critical task")
	cmd.Flags().BoolVar(&evidence, "evidence", false, "require evidence to complete (defaults to --critical)")
	cmd.Flags().IntVar(&onComplete, "points-complete", 0, "points on completion (defaults from config)")
	cmd.Flags().IntVar(&onSkip, "points-skip", 0, "points on skip (defaults from config)")
	cmd.Flags().BoolVar(&opts.Inactive, "inactive", false, "create inactive")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("weekdays")
	return cmd
}

func templateListCmd() *cobra.Command {
	var f repo.TemplateFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visible templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListVisibleTemplates(ctx, f, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Owner", "Channel", "Days", "Time", "Critical", "Points", "Active"})
				for _, t := range items {
					tw.AppendRow(table.Row{
						t.ID, t.Title, t.OwnerID, deref(t.ChannelID), calendar.FormatWeekdays(t.Weekdays), t.TimeOfDay,
						t.IsCritical, fmt.Sprintf("%s/%s", signed(t.PointsOnComplete), signed(t.PointsOnSkip)), t.IsActive,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.OwnerID, "owner", "", "owner filter")
	cmd.Flags().StringVar(&f.ChannelID, "channel", "", "channel filter")
	cmd.Flags().BoolVar(&f.ActiveOnly, "active", false, "only active templates")
	return cmd
}

func templateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <template-id>",
		Short: "Show a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTemplate(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func templateUpdateCmd() *cobra.Command {
	var title, dod, desc, owner, channel, tod string
	var weekdays []string
	var critical, evidence, active bool
	var onComplete, onSkip int
	cmd := &cobra.Command{
		Use:   "update <template-id>",
		Short: "Update a template; only given flags change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TemplateUpdateOptions{
				Title:            optionalString(cmd, "title", title),
				DoD:              optionalString(cmd, "dod", dod),
				Description:      optionalString(cmd, "description", desc),
				OwnerID:          optionalString(cmd, "owner", owner),
				ChannelID:        optionalString(cmd, "channel", channel),
				TimeOfDay:        optionalString(cmd, "time", tod),
				IsCritical:       optionalBool(cmd, "critical", critical),
				EvidenceRequired: optionalBool(cmd, "evidence", evidence),
				PointsOnComplete: optionalInt(cmd, "points-complete", onComplete),
				PointsOnSkip:     optionalInt(cmd, "points-skip", onSkip),
				IsActive:         optionalBool(cmd, "active", active),
			}
			if cmd.Flags().Changed("weekdays") {
				opts.Weekdays = weekdays
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = actorID()
				t, err := e.UpdateTemplate(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&dod, "dod", "", "definition of done")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	cmd.Flags().StringVar(&channel, "channel", "", "channel id (empty clears it)")
	cmd.Flags().StringVar(&tod, "time", "", "time of day HH:MM")
	cmd.Flags().StringSliceVar(&weekdays, "weekdays", nil, "weekdays")
	cmd.Flags().BoolVar(&critical, "critical", false, "critical task")
	cmd.Flags().BoolVar(&evidence, "evidence", false, "require evidence")
	cmd.Flags().IntVar(&onComplete, "points-complete", 0, "points on completion")
	cmd.Flags().IntVar(&onSkip, "points-skip", 0, "points on skip")
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	return cmd
}

func monthCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "month", Short: "Generate monthly tasks"}
	cmd.AddCommand(monthApplyCmd())
	return cmd
}

func monthApplyCmd() *cobra.Command {
	var next bool
	cmd := &cobra.Command{
		Use:   "apply [YYYY-MM]",
		Short: "Create the month's tasks from active templates",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				month := calendar.MonthKey(e.Today())
				switch {
				case len(args) == 1 && next:
					return fmt.Errorf("give a month or --next, not both")
				case len(args) == 1:
					month = args[0]
				case next:
					month = calendar.NextMonthKey(e.Today())
				}
				res, err := e.ApplyMonth(ctx, month, actorID())
				if err != nil {
					return err
				}
				counts, err := e.MonthSummary(ctx, res.Month, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"month": res.Month, "created": len(res.Created), "skipped": res.Skipped, "counts": counts})
				}
				fmt.Printf("%s %s: %d created, %d already present\n",
					styleTitle.Render("month"), res.Month, len(res.Created), res.Skipped)
				fmt.Printf("  %s %d  %s %d  %s %d\n",
					statusText(domain.StatusPending), counts[domain.StatusPending],
					statusText(domain.StatusDone), counts[domain.StatusDone],
					statusText(domain.StatusSkipped), counts[domain.StatusSkipped])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&next, "next", false, "apply the month after the current one")
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Work with dated tasks"}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskAddCmd())
	cmd.AddCommand(taskShowCmd())
	cmd.AddCommand(taskDoneCmd())
	cmd.AddCommand(taskSkipCmd())
	return cmd
}

func taskListCmd() *cobra.Command {
	var q engine.InstanceQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visible tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if q.Month == "" && q.Date == "" {
					q.Month = calendar.MonthKey(e.Today())
				}
				page, err := e.ListVisibleInstances(ctx, q, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Date", "Time", "Title", "Owner", "Channel", "Status", "Points"})
				for _, t := range page.Items {
					title := t.Title
					if t.IsCritical {
						title = styleBold.Render(title)
					}
					pts := ""
					if t.PointsAwarded != nil {
						pts = pointsText(*t.PointsAwarded)
					}
					tw.AppendRow(table.Row{t.ID, t.Date, t.TimeOfDay, title, t.OwnerID, deref(t.ChannelID), statusText(t.Status), pts})
				}
				tw.Render()
				if page.NextCursor != "" {
					fmt.Println(styleSubtle.Render("more: --cursor " + page.NextCursor))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&q.Month, "month", "", "YYYY-MM (defaults to the current month)")
	cmd.Flags().StringVar(&q.Date, "date", "", "YYYY-MM-DD")
	cmd.Flags().StringVar(&q.OwnerID, "owner", "", "owner filter")
	cmd.Flags().StringVar(&q.Status, "status", "", "PENDING, DONE or SKIPPED")
	cmd.Flags().IntVar(&q.Limit, "limit", 100, "page size")
	cmd.Flags().StringVar(&q.Cursor, "cursor", "", "cursor from a previous page")
	return cmd
}

func taskAddCmd() *cobra.Command {
	var opts engine.AdHocOptions
	var evidence bool
	var onComplete, onSkip int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a one-off task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.EvidenceRequired = optionalBool(cmd, "evidence", evidence)
			opts.PointsOnComplete = optionalInt(cmd, "points-complete", onComplete)
			opts.PointsOnSkip = optionalInt(cmd, "points-skip", onSkip)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = actorID()
				if opts.Date == "" {
					opts.Date = e.Today().Format(calendar.DateLayout)
				}
				t, err := e.CreateAdHocInstance(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Date, "date", "", "YYYY-MM-DD (defaults to today)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.DoD, "dod", "", "definition of done")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "owner id")
	cmd.Flags().StringVar(&opts.ChannelID, "channel", "", "channel id")
	cmd.Flags().StringVar(&opts.TimeOfDay, "time", "", "time of day HH:MM")
	cmd.Flags().BoolVar(&opts.IsCritical, "critical", false, "critical task")
	cmd.Flags().BoolVar(&evidence, "evidence", false, "require evidence")
	cmd.Flags().IntVar(&onComplete, "points-complete", 0, "points on completion")
	cmd.Flags().IntVar(&onSkip, "points-skip", 0, "points on skip")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetInstance(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskDoneCmd() *cobra.Command {
	var evidence []string
	cmd := &cobra.Command{
		Use:   "done <task-id>",
		Short: "Complete a pending task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CompleteInstance(ctx, args[0], evidence, actorID())
				if err != nil {
					return err
				}
				return printTransition(res)
			})
		},
	}
	cmd.Flags().StringArrayVar(&evidence, "evidence", nil, "evidence reference (repeatable)")
	return cmd
}

func taskSkipCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "skip <task-id>",
		Short: "Skip a pending task with a reason",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SkipInstance(ctx, args[0], reason, actorID())
				if err != nil {
					return err
				}
				return printTransition(res)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the task was skipped")
	return cmd
}

func printTransition(res engine.TransitionResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	inst := res.Instance
	fmt.Printf("%s %s %s (%s) %s points for %s\n",
		statusText(inst.Status), inst.ID, inst.Title, inst.Date, pointsText(res.Entry.Amount), inst.OwnerID)
	return nil
}
