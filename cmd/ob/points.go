package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"opsboard/internal/calendar"
	"opsboard/internal/engine"
	"opsboard/internal/ledger"
	"opsboard/internal/repo"
)

func pointsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "points", Short: "Points ledger"}
	cmd.AddCommand(pointsGrantCmd())
	cmd.AddCommand(pointsListCmd())
	cmd.AddCommand(pointsTotalCmd())
	cmd.AddCommand(pointsRankCmd())
	return cmd
}

type rangeFlags struct {
	month, from, to string
}

func (f *rangeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.month, "month", "", "YYYY-MM (defaults to the current month)")
	cmd.Flags().StringVar(&f.from, "from", "", "first date YYYY-MM-DD")
	cmd.Flags().StringVar(&f.to, "to", "", "last date YYYY-MM-DD")
}

func (f rangeFlags) resolve(e engine.Engine) (ledger.DateRange, error) {
	if f.month != "" && (f.from != "" || f.to != "") {
		return ledger.DateRange{}, fmt.Errorf("--month cannot be combined with --from/--to")
	}
	if f.from != "" || f.to != "" {
		r := ledger.DateRange{From: f.from, To: f.to}
		return r, r.Validate()
	}
	month := f.month
	if month == "" {
		month = calendar.MonthKey(e.Today())
	}
	return ledger.MonthRange(month)
}

func pointsGrantCmd() *cobra.Command {
	var opts engine.GrantOptions
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Book a manual adjustment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = actorID()
				if opts.Date == "" {
					opts.Date = e.Today().Format(calendar.DateLayout)
				}
				entry, err := e.AppendPoints(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entry)
				}
				fmt.Printf("%s points for %s on %s\n", pointsText(entry.Amount), entry.OwnerID, entry.Date)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "owner id")
	cmd.Flags().IntVar(&opts.Amount, "amount", 0, "points, may be negative")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "reason")
	cmd.Flags().StringVar(&opts.Date, "date", "", "YYYY-MM-DD (defaults to today)")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func pointsListCmd() *cobra.Command {
	var rf rangeFlags
	var f repo.PointsFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := rf.resolve(e)
				if err != nil {
					return err
				}
				f.Range = r
				entries, err := e.ListPoints(ctx, f, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Date", "Owner", "Amount", "Source", "Reason"})
				for _, p := range entries {
					src := string(p.SourceKind)
					if p.SourceID != nil {
						src += " " + *p.SourceID
					}
					tw.AppendRow(table.Row{p.Date, p.OwnerID, pointsText(p.Amount), src, p.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	rf.register(cmd)
	cmd.Flags().StringVar(&f.OwnerID, "owner", "", "owner filter")
	cmd.Flags().StringVar(&f.SourceKind, "source", "", "TASK_DONE, TASK_SKIPPED, INCIDENT_RESOLVED or MANUAL")
	cmd.Flags().IntVar(&f.Limit, "limit", 200, "max entries")
	return cmd
}

func pointsTotalCmd() *cobra.Command {
	var rf rangeFlags
	var owner string
	cmd := &cobra.Command{
		Use:   "total",
		Short: "Sum an owner's points over a range",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := rf.resolve(e)
				if err != nil {
					return err
				}
				if owner == "" {
					owner = actorID()
				}
				total, err := e.TotalFor(ctx, owner, r, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"owner_id": owner, "range": r, "total": total})
				}
				fmt.Printf("%s %s..%s: %s\n", owner, r.From, r.To, pointsText(total))
				return nil
			})
		},
	}
	rf.register(cmd)
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (defaults to the actor)")
	return cmd
}

func pointsRankCmd() *cobra.Command {
	var rf rangeFlags
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank owners by points over a range",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := rf.resolve(e)
				if err != nil {
					return err
				}
				standings, err := e.Rank(ctx, r, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"range": r, "items": standings})
				}
				fmt.Println(styleTitle.Render(fmt.Sprintf("Ranking %s..%s", r.From, r.To)))
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Owner", "Points"})
				for i, s := range standings {
					pos := strconv.Itoa(i + 1)
					if i == 0 {
						pos = styleBold.Render(pos)
					}
					tw.AppendRow(table.Row{pos, s.OwnerID, pointsText(s.Total)})
				}
				tw.Render()
				return nil
			})
		},
	}
	rf.register(cmd)
	return cmd
}

func incidentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "incident", Short: "Track unplanned work"}
	cmd.AddCommand(incidentOpenCmd())
	cmd.AddCommand(incidentListCmd())
	cmd.AddCommand(incidentResolveCmd())
	return cmd
}

func incidentOpenCmd() *cobra.Command {
	var opts engine.IncidentCreateOptions
	var points int
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open an incident",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.PointsOnResolve = optionalInt(cmd, "points", points)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = actorID()
				inc, err := e.CreateIncident(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(inc)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "owner id (defaults to the actor)")
	cmd.Flags().StringVar(&opts.ChannelID, "channel", "", "channel id")
	cmd.Flags().StringVar(&opts.Severity, "severity", "medium", "low, medium or high")
	cmd.Flags().IntVar(&points, "points", 0, "points credited on resolve (defaults from config)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func incidentListCmd() *cobra.Command {
	var f repo.IncidentFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visible incidents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListIncidents(ctx, f, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Owner", "Severity", "Status", "Opened"})
				for _, inc := range items {
					tw.AppendRow(table.Row{inc.ID, inc.Title, inc.OwnerID, inc.Severity, inc.Status, inc.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "OPEN or RESOLVED")
	cmd.Flags().StringVar(&f.OwnerID, "owner", "", "owner filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max incidents")
	return cmd
}

func incidentResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <incident-id>",
		Short: "Resolve an incident and credit its owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ResolveIncident(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s resolved, %s points for %s\n", res.Incident.ID, pointsText(res.Entry.Amount), res.Entry.OwnerID)
				return nil
			})
		},
	}
}
