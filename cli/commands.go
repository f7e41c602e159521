package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ccmanuelf/kpi-operations-sub013/db/repository"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/forecast"
	"github.com/ccmanuelf/kpi-operations-sub013/ingest"
	"github.com/ccmanuelf/kpi-operations-sub013/kpi"
	"github.com/ccmanuelf/kpi-operations-sub013/report"
	"github.com/ccmanuelf/kpi-operations-sub013/tenant"
	"github.com/ccmanuelf/kpi-operations-sub013/workflow"
)

// withApp wires a one-shot process, authenticates the CLI user and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app, actor tenant.Actor) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close()
	actor, err := a.actor(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, a, actor)
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate and print a token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer a.close()
			res, err := a.svc.Login(cmd.Context(), "local", flagUser, flagPass)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func ingestCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "ingest <kind> <file>",
		Short: "Validate and commit a CSV batch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, actor tenant.Actor) error {
				f, err := os.Open(args[1])
				if err != nil {
					return domain.Validation("file", err.Error())
				}
				defer f.Close()

				receipt, summary, err := a.svc.Ingest(ctx, actor, flagClient, ingest.Kind(args[0]), f, dryRun)
				if summary != nil {
					if perr := printJSON(summary); perr != nil {
						return perr
					}
				}
				if err != nil {
					return err
				}
				if receipt != nil {
					fmt.Printf("committed %s rows (batch %s)\n",
						humanize.Comma(int64(receipt.Inserted)), receipt.BatchID)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate without committing")
	return cmd
}

func kpiCmd() *cobra.Command {
	var days int
	var shift, product, workOrder, equipment, stage string
	cmd := &cobra.Command{
		Use:   "kpi <indicator>",
		Short: "Compute one indicator over a trailing window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, actor tenant.Actor) error {
				now := time.Now().UTC()
				res, err := a.svc.QueryKPI(ctx, actor, flagClient, kpi.Query{
					KPI:         domain.KPIID(args[0]),
					Window:      repository.Range{From: now.AddDate(0, 0, -days), To: now},
					ShiftID:     shift,
					ProductID:   product,
					WorkOrderID: workOrder,
					EquipmentID: equipment,
					Stage:       domain.InspectionStage(stage),
				})
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "trailing window in days")
	cmd.Flags().StringVar(&shift, "shift", "", "filter by shift id")
	cmd.Flags().StringVar(&product, "product", "", "filter by product id")
	cmd.Flags().StringVar(&workOrder, "workorder", "", "filter by work order id")
	cmd.Flags().StringVar(&equipment, "equipment", "", "filter by equipment id")
	cmd.Flags().StringVar(&stage, "stage", "", "filter by inspection stage")
	return cmd
}

func workorderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workorder",
		Short: "Work order lifecycle operations",
	}

	var to, note string
	transition := &cobra.Command{
		Use:   "transition <id>...",
		Short: "Move work orders to a new status",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, actor tenant.Actor) error {
				target := domain.WorkOrderStatus(to)
				if len(args) == 1 {
					wo, err := a.svc.Transition(ctx, actor, flagClient, args[0], target, note)
					if err != nil {
						return err
					}
					return printJSON(wo)
				}
				result, err := a.svc.TransitionBulk(ctx, actor, flagClient, args, target, note)
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}
	transition.Flags().StringVar(&to, "to", "", "target status")
	transition.Flags().StringVar(&note, "note", "", "transition note")
	_ = transition.MarkFlagRequired("to")

	var qty int
	var reason, severity, description, action string
	hold := &cobra.Command{
		Use:   "hold <id>",
		Short: "Suspend a work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, actor tenant.Actor) error {
				h, err := a.svc.Hold(ctx, actor, flagClient, workflow.HoldRequest{
					WorkOrderID:    args[0],
					QuantityHeld:   qty,
					Reason:         reason,
					Severity:       domain.HoldSeverity(severity),
					Description:    description,
					RequiredAction: action,
				})
				if err != nil {
					return err
				}
				return printJSON(h)
			})
		},
	}
	hold.Flags().IntVar(&qty, "qty", 0, "quantity held")
	hold.Flags().StringVar(&reason, "reason", "", "hold reason")
	hold.Flags().StringVar(&severity, "severity", "MEDIUM", "hold severity")
	hold.Flags().StringVar(&description, "description", "", "description")
	hold.Flags().StringVar(&action, "action", "", "required action")
	_ = hold.MarkFlagRequired("reason")

	var disposition, approvedBy, notes string
	var releasedQty int
	resume := &cobra.Command{
		Use:   "resume <hold-id>",
		Short: "Close a hold with a disposition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, actor tenant.Actor) error {
				h, err := a.svc.Resume(ctx, actor, flagClient, workflow.ResumeRequest{
					HoldID:      args[0],
					Disposition: domain.Disposition(disposition),
					ReleasedQty: releasedQty,
					ApprovedBy:  approvedBy,
					Notes:       notes,
				})
				if err != nil {
					return err
				}
				return printJSON(h)
			})
		},
	}
	resume.Flags().StringVar(&disposition, "disposition", "", "RELEASE, REWORK, SCRAP, RTS or USE_AS_IS")
	resume.Flags().IntVar(&releasedQty, "qty", 0, "released quantity")
	resume.Flags().StringVar(&approvedBy, "approved-by", "", "approver")
	resume.Flags().StringVar(&notes, "notes", "", "resume notes")
	_ = resume.MarkFlagRequired("disposition")

	cmd.AddCommand(transition, hold, resume)
	return cmd
}

func holdsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "holds",
		Short: "Hold reporting",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "aging",
		Short: "Bucket active holds by age",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, actor tenant.Actor) error {
				rep, err := a.svc.AgingReport(ctx, actor, flagClient)
				if err != nil {
					return err
				}
				return printJSON(rep)
			})
		},
	})
	return cmd
}

func capacityCmd() *cobra.Command {
	var sessionID, fromStr, toStr string
	cmd := &cobra.Command{
		Use:   "capacity",
		Short: "Capacity planning operations",
	}
	cmd.PersistentFlags().StringVar(&sessionID, "session", "default", "planning session id")
	cmd.PersistentFlags().StringVar(&fromStr, "from", "", "window start (YYYY-MM-DD)")
	cmd.PersistentFlags().StringVar(&toStr, "to", "", "window end (YYYY-MM-DD)")

	window := func() (time.Time, time.Time, error) {
		parse := func(field, v string) (time.Time, error) {
			if v == "" {
				return time.Time{}, nil
			}
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				return time.Time{}, domain.Validation(field, "expected YYYY-MM-DD")
			}
			return t, nil
		}
		from, err := parse("from", fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to, err := parse("to", toStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return from, to, nil
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Run the component availability check",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, actor tenant.Actor) error {
				res, err := a.svc.RunComponentCheck(ctx, actor, flagClient, sessionID)
				if err != nil {
					return err
				}
				fmt.Println(res.Summary())
				return printJSON(res)
			})
		},
	}
	analysis := &cobra.Command{
		Use:   "analysis",
		Short: "Run the capacity utilization analysis",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, actor tenant.Actor) error {
				from, to, err := window()
				if err != nil {
					return err
				}
				res, err := a.svc.RunAnalysis(ctx, actor, flagClient, sessionID, from, to)
				if err != nil {
					return err
				}
				fmt.Println(res.Summary())
				return printJSON(res)
			})
		},
	}
	scenario := &cobra.Command{
		Use:   "scenario <id>",
		Short: "Evaluate a what-if scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, actor tenant.Actor) error {
				from, to, err := window()
				if err != nil {
					return err
				}
				res, err := a.svc.RunScenario(ctx, actor, flagClient, sessionID, args[0], from, to)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	save := &cobra.Command{
		Use:   "save",
		Short: "Commit the session's dirty sheets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, actor tenant.Actor) error {
				return a.svc.SaveCapacity(ctx, actor, flagClient, sessionID)
			})
		},
	}
	cmd.AddCommand(check, analysis, scenario, save)
	return cmd
}

func forecastCmd() *cobra.Command {
	var days int
	var method string
	cmd := &cobra.Command{
		Use:   "forecast <indicator>",
		Short: "Project an indicator forward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, actor tenant.Actor) error {
				if days <= 0 {
					days = a.cfg.Forecast.DefaultDays
				}
				f, err := a.svc.Forecast(ctx, actor, flagClient, domain.KPIID(args[0]), days, forecast.Method(method))
				if err != nil {
					return err
				}
				return printJSON(f)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "forecast horizon in days")
	cmd.Flags().StringVar(&method, "method", string(forecast.MethodAuto), "auto, simple, double or damped")
	return cmd
}

func reportCmd() *cobra.Command {
	var kind, format, out string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Assemble and render a KPI report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, actor tenant.Actor) error {
				doc, _, err := a.svc.Report(ctx, actor, flagClient, report.Kind(kind), format)
				if err != nil {
					return err
				}
				if out == "" {
					fmt.Println(string(doc))
					return nil
				}
				if err := os.WriteFile(out, doc, 0o644); err != nil {
					return domain.Infra(err, "report write failed")
				}
				fmt.Printf("wrote %s to %s\n", humanize.Bytes(uint64(len(doc))), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(report.KindDaily), "daily, weekly or monthly")
	cmd.Flags().StringVar(&format, "format", "pdf", "pdf or xlsx")
	cmd.Flags().StringVar(&out, "out", "", "output file (default stdout)")
	return cmd
}

func eventsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Event store maintenance",
	}
	replay := &cobra.Command{
		Use:   "replay",
		Short: "Re-dispatch unacknowledged events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := buildApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.close()
			defer a.bus.Stop(a.shutdownGrace())
			if a.sched != nil {
				defer a.sched.Stop()
			}

			actor, err := a.actor(ctx)
			if err != nil {
				return err
			}
			n, err := a.svc.ReplayEvents(ctx, actor, limit)
			if err != nil {
				return err
			}
			fmt.Printf("replayed %s events\n", humanize.Comma(int64(n)))
			return nil
		},
	}
	replay.Flags().IntVar(&limit, "limit", 100, "maximum events to replay")
	cmd.AddCommand(replay)
	return cmd
}
