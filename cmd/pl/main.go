package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pledgeline/internal/aggregate"
	"pledgeline/internal/app"
	"pledgeline/internal/config"
	"pledgeline/internal/db"
	"pledgeline/internal/domain"
	"pledgeline/internal/engine"
	"pledgeline/internal/gateway"
	"pledgeline/internal/migrate"
	"pledgeline/internal/repo"
	"pledgeline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Pledgeline CLI",
	Long: `Pledgeline turns conditional pledges into itemized contributions.
A trigger names a future real-world event and its possible outcomes. Supporters
pledge an amount against a trigger before (or after) it resolves. When the
event happens the trigger is executed with the recorded per-actor outcomes,
and each open pledge is then charged: the amount is split across the resolved
recipients, fees are computed from the pledge's stamped fee schedule, and the
charge runs through the payment gateway exactly once per pledge.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PLEDGELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-operator", "operator identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(triggerCmd())
	rootCmd.AddCommand(pledgeCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(executionCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(recipientCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage campaign config",
		Long:  "Config is the campaign rulebook: fee schedule, gateway credentials, execution delay and webhooks, read from pledgeline.yml in the workspace.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var campaignID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default pledgeline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(campaignID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&campaignID, "campaign", "default", "campaign id")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show campaign status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				triggers, err := e.Repo.ListTriggers(ctx)
				if err != nil {
					return err
				}
				byState := map[string]int{}
				for _, t := range triggers {
					byState[t.State.String()]++
				}
				total, err := aggregate.GetSlice(ctx, e.DB, aggregate.Key{})
				if err != nil {
					return err
				}
				out := map[string]any{
					"campaign_id":              e.Config.Campaign.ID,
					"triggers":                 byState,
					"contributions":            total.Count,
					"contribution_total_cents": total.TotalCents,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Campaign: %s\n", e.Config.Campaign.ID)
				fmt.Println("Triggers:")
				for state, c := range byState {
					fmt.Printf("  %s: %d\n", state, c)
				}
				fmt.Printf("Contributions: %d ($%d.%02d)\n", total.Count, total.TotalCents/100, total.TotalCents%100)
				return nil
			})
		},
	}
	return cmd
}

func triggerCmd() *cobra.Command {
	trg := &cobra.Command{
		Use:   "trigger",
		Short: "Manage triggers",
		Long:  "Triggers name future events. They flow draft -> open <-> paused -> executed, or are vacated when the event will never resolve.",
	}
	trg.AddCommand(triggerCreateCmd())
	trg.AddCommand(triggerListCmd())
	trg.AddCommand(triggerShowCmd())
	trg.AddCommand(triggerOpenCmd())
	trg.AddCommand(triggerPauseCmd())
	trg.AddCommand(triggerExecuteCmd())
	trg.AddCommand(triggerVacateCmd())
	trg.AddCommand(triggerUnexecuteCmd())
	trg.AddCommand(triggerExecutePledgesCmd())
	return trg
}

func triggerCreateCmd() *cobra.Command {
	var opts engine.TriggerCreateOptions
	var outcomes []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a trigger",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			for _, raw := range outcomes {
				parts := strings.SplitN(raw, "=", 2)
				o := domain.TriggerOutcome{Key: parts[0], Label: parts[0]}
				if len(parts) == 2 {
					o.Label = parts[1]
				}
				opts.Outcomes = append(opts.Outcomes, o)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTrigger(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "trigger id (optional)")
	cmd.Flags().StringVar(&opts.Key, "key", "", "unique trigger key")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringArrayVar(&outcomes, "outcome", []string{}, "outcome key=label (repeatable, index order)")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func triggerListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTriggers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Key", "Title", "State", "Pledges", "Pledged"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Key, t.Title, t.State.String(), t.PledgeCount, centsString(t.TotalPledged)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func triggerShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id-or-key>",
		Short: "Show a trigger by id or key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTrigger(ctx, args[0])
				if errors.Is(err, repo.ErrNotFound) {
					t, err = e.Repo.GetTriggerByKey(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func triggerOpenCmd() *cobra.Command {
	return triggerTransitionCmd("open", "Open a trigger for pledging", func(ctx context.Context, e engine.Engine, id string) (domain.Trigger, error) {
		return e.OpenTrigger(ctx, id, viper.GetString("actor-id"))
	})
}

func triggerPauseCmd() *cobra.Command {
	return triggerTransitionCmd("pause", "Pause an open trigger", func(ctx context.Context, e engine.Engine, id string) (domain.Trigger, error) {
		return e.PauseTrigger(ctx, id, viper.GetString("actor-id"))
	})
}

func triggerVacateCmd() *cobra.Command {
	return triggerTransitionCmd("vacate", "Vacate a trigger and its open pledges", func(ctx context.Context, e engine.Engine, id string) (domain.Trigger, error) {
		return e.VacateTrigger(ctx, id, viper.GetString("actor-id"))
	})
}

func triggerTransitionCmd(use, short string, fn func(context.Context, engine.Engine, string) (domain.Trigger, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := fn(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func triggerExecuteCmd() *cobra.Command {
	var actionTime, description string
	var outcomes []string
	cmd := &cobra.Command{
		Use:   "execute <id>",
		Short: "Execute a trigger with real-world outcomes",
		Long:  "Record how the event resolved: one outcome per actor, as actor=index for a vote or actor=!reason for no action. This snapshots actions and locks the trigger; charge pledges afterwards with 'pl trigger execute-pledges'.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ExecuteTriggerOptions{
				TriggerID:   args[0],
				ActionTime:  actionTime,
				Description: description,
				ActorID:     viper.GetString("actor-id"),
			}
			for _, raw := range outcomes {
				parts := strings.SplitN(raw, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("outcome %q: expected actor=index or actor=!reason", raw)
				}
				var o domain.Outcome
				if strings.HasPrefix(parts[1], "!") {
					o = domain.NoOutcome(strings.TrimPrefix(parts[1], "!"))
				} else {
					var idx int
					if _, err := fmt.Sscanf(parts[1], "%d", &idx); err != nil {
						return fmt.Errorf("outcome %q: invalid index", raw)
					}
					o = domain.OutcomeIndex(idx)
				}
				opts.Outcomes = append(opts.Outcomes, engine.ActorOutcome{ActorID: parts[0], Outcome: o})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				exec, err := e.ExecuteTrigger(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(exec)
			})
		},
	}
	cmd.Flags().StringVar(&actionTime, "action-time", "", "when the event happened (RFC3339, defaults to now)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringArrayVar(&outcomes, "outcome", []string{}, "actor outcome actor=index or actor=!reason (repeatable)")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

func triggerUnexecuteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unexecute <id>",
		Short: "Undo an execution that charged nothing yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.UnexecuteTrigger(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				t, err := e.Repo.GetTrigger(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func triggerExecutePledgesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute-pledges <id>",
		Short: "Charge all open pledges on an executed trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ExecuteTriggerPledges(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Executed: %d (problems: %d, skipped: %d)\n", res.Executed, res.Problems, len(res.Skipped))
				for _, s := range res.Skipped {
					fmt.Printf("  skipped %s: %v\n", s.PledgeID, s.Err)
				}
				return nil
			})
		},
	}
	return cmd
}

func pledgeCmd() *cobra.Command {
	plg := &cobra.Command{
		Use:   "pledge",
		Short: "Manage pledges",
		Long:  "Pledges are conditional commitments against a trigger: an amount, the desired outcome index, a contributor profile, and optional recipient filters (split and party).",
	}
	plg.AddCommand(pledgeCreateCmd())
	plg.AddCommand(pledgeListCmd())
	plg.AddCommand(pledgeShowCmd())
	plg.AddCommand(pledgeCancelCmd())
	plg.AddCommand(pledgeConfirmEmailCmd())
	plg.AddCommand(pledgeNoticeCmd())
	plg.AddCommand(pledgeExecuteCmd())
	return plg
}

func pledgeCreateCmd() *cobra.Command {
	var opts engine.PledgeCreateOptions
	var split string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pledge",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			switch split {
			case "challengers":
				opts.IncumbChallenger = domain.SplitChallengersOnly
			case "both", "":
				opts.IncumbChallenger = domain.SplitBoth
			case "incumbents":
				opts.IncumbChallenger = domain.SplitIncumbentsOnly
			default:
				return fmt.Errorf("--split must be challengers, both or incumbents")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreatePledge(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "pledge id (optional)")
	cmd.Flags().StringVar(&opts.TriggerID, "trigger", "", "trigger id")
	cmd.Flags().StringVar(&opts.UserID, "user", "", "pledging user id")
	cmd.Flags().BoolVar(&opts.EmailConfirmed, "email-confirmed", false, "user email already confirmed")
	cmd.Flags().IntVar(&opts.DesiredOutcome, "desired-outcome", 0, "desired outcome index")
	cmd.Flags().Int64Var(&opts.AmountCents, "amount-cents", 0, "pledged amount in cents")
	cmd.Flags().StringVar(&split, "split", "both", "recipient split: challengers, both or incumbents")
	cmd.Flags().StringVar(&opts.FilterParty, "party", "", "restrict recipients to one party")
	cmd.Flags().StringVar(&opts.ProfileID, "profile", "", "contributor profile id")
	_ = cmd.MarkFlagRequired("trigger")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("amount-cents")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}

func pledgeListCmd() *cobra.Command {
	var f repo.PledgeFilters
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pledges",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch state {
			case "open":
				s := domain.PledgeOpen
				f.State = &s
			case "executed":
				s := domain.PledgeExecuted
				f.State = &s
			case "vacated":
				s := domain.PledgeVacated
				f.State = &s
			case "":
			default:
				return fmt.Errorf("--state must be open, executed or vacated")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListPledges(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Trigger", "User", "Amount", "Outcome", "State"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.TriggerID, p.UserID, centsString(p.AmountCents), p.DesiredOutcome, p.State.String()})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.TriggerID, "trigger", "", "trigger filter")
	cmd.Flags().StringVar(&f.UserID, "user", "", "user filter")
	cmd.Flags().StringVar(&state, "state", "", "state filter (open, executed, vacated)")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "limit")
	return cmd
}

func pledgeShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a pledge and its execution, if any",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetPledge(ctx, args[0])
				if err != nil {
					return err
				}
				pe, err := e.Repo.GetPledgeExecutionByPledge(ctx, p.ID)
				if errors.Is(err, repo.ErrNotFound) {
					return printJSONOrTable(p)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(struct {
					Pledge    domain.Pledge          `json:"pledge"`
					Execution domain.PledgeExecution `json:"execution"`
				}{p, pe})
			})
		},
	}
	return cmd
}

func pledgeCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an open pledge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.CancelPledge(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func pledgeConfirmEmailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confirm-email <id>",
		Short: "Mark the pledge's email confirmed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.ConfirmPledgeEmail(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func pledgeNoticeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notice <id>",
		Short: "Record the pre-execution notice timestamp",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RecordPreExecutionNotice(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func pledgeExecuteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute <id>",
		Short: "Charge a single pledge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pe, err := e.ExecutePledge(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(pe)
			})
		},
	}
	return cmd
}

func profileCmd() *cobra.Command {
	prf := &cobra.Command{
		Use:   "profile",
		Short: "Manage contributor profiles",
		Long:  "Profiles carry the billing details and the stored card token used when a pledge is charged. Refresh creates a new profile and points the user's open pledges at it.",
	}
	prf.AddCommand(profileCreateCmd(false))
	prf.AddCommand(profileCreateCmd(true))
	prf.AddCommand(profileShowCmd())
	return prf
}

func profileCreateCmd(refresh bool) *cobra.Command {
	var p domain.ContributorProfile
	use, short := "create", "Create a contributor profile"
	if refresh {
		use, short = "refresh", "Create a profile and reassign the user's open pledges"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var res domain.ContributorProfile
				var err error
				if refresh {
					res, err = e.RefreshProfile(ctx, p)
				} else {
					res, err = e.CreateProfile(ctx, p)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&p.UserID, "user", "", "user id")
	cmd.Flags().StringVar(&p.Name, "name", "", "contributor name")
	cmd.Flags().StringVar(&p.Address, "address", "", "street address")
	cmd.Flags().StringVar(&p.City, "city", "", "city")
	cmd.Flags().StringVar(&p.State, "state", "", "state")
	cmd.Flags().StringVar(&p.Zip, "zip", "", "zip code")
	cmd.Flags().StringVar(&p.CCToken, "cc-token", "", "stored card token")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("cc-token")
	return cmd
}

func profileShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProfile(ctx, args[0])
				if err != nil {
					return err
				}
				p.CCToken = ""
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func executionCmd() *cobra.Command {
	exe := &cobra.Command{
		Use:   "execution",
		Short: "Inspect and void pledge executions",
	}
	exe.AddCommand(executionShowCmd())
	exe.AddCommand(executionVoidCmd())
	return exe
}

func executionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a pledge execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pe, err := e.Repo.GetPledgeExecution(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(pe)
			})
		},
	}
	return cmd
}

func executionVoidCmd() *cobra.Command {
	var allowCredit bool
	cmd := &cobra.Command{
		Use:   "void <id>",
		Short: "Void a charged execution and reverse its contributions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.VoidExecution(ctx, args[0], allowCredit, viper.GetString("actor-id")); err != nil {
					return err
				}
				pe, err := e.Repo.GetPledgeExecution(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(pe)
			})
		},
	}
	cmd.Flags().BoolVar(&allowCredit, "allow-credit", false, "fall back to a credit when the gateway cannot void")
	return cmd
}

func actorCmd() *cobra.Command {
	act := &cobra.Command{
		Use:   "actor",
		Short: "Manage actors",
		Long:  "Actors are the real-world decision makers (incumbents) whose recorded outcomes drive contribution routing.",
	}
	act.AddCommand(actorCreateCmd())
	act.AddCommand(actorListCmd())
	act.AddCommand(actorSetInactiveCmd())
	act.AddCommand(actorSetChallengerCmd())
	return act
}

func actorCreateCmd() *cobra.Command {
	var a domain.Actor
	var challenger string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if a.ID == "" {
					a.ID = newID()
				}
				if challenger != "" {
					a.ChallengerRecipientID = &challenger
				}
				a.CreatedAt = time.Now().UTC().Format(time.RFC3339)
				if err := e.Repo.InsertActor(ctx, a); err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&a.ID, "id", "", "actor id (optional)")
	cmd.Flags().StringVar(&a.Name, "name", "", "name")
	cmd.Flags().StringVar(&a.Party, "party", "", "party")
	cmd.Flags().StringVar(&a.Office, "office", "", "office held")
	cmd.Flags().StringVar(&a.District, "district", "", "district")
	cmd.Flags().StringVar(&challenger, "challenger-recipient", "", "challenger recipient id")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("party")
	_ = cmd.MarkFlagRequired("office")
	return cmd
}

func actorListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListActors(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Party", "Office", "District", "Inactive"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Name, a.Party, a.Office, a.District, a.Inactive})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func actorSetInactiveCmd() *cobra.Command {
	var inactive bool
	var reason string
	cmd := &cobra.Command{
		Use:   "set-inactive <id>",
		Short: "Mark an actor inactive (or active again)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.SetActorInactive(ctx, args[0], inactive, reason); err != nil {
					return err
				}
				a, err := e.Repo.GetActor(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().BoolVar(&inactive, "inactive", true, "inactive flag")
	cmd.Flags().StringVar(&reason, "reason", "", "inactive reason (e.g. resigned, deceased)")
	return cmd
}

func actorSetChallengerCmd() *cobra.Command {
	var recipient string
	cmd := &cobra.Command{
		Use:   "set-challenger <id>",
		Short: "Set or clear an actor's challenger recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var ptr *string
				if recipient != "" {
					ptr = &recipient
				}
				if err := e.Repo.SetActorChallenger(ctx, args[0], ptr); err != nil {
					return err
				}
				a, err := e.Repo.GetActor(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&recipient, "recipient", "", "challenger recipient id (empty clears)")
	return cmd
}

func recipientCmd() *cobra.Command {
	rec := &cobra.Command{
		Use:   "recipient",
		Short: "Manage payable recipients",
	}
	rec.AddCommand(recipientCreateCmd())
	rec.AddCommand(recipientSetActiveCmd())
	return rec
}

func recipientCreateCmd() *cobra.Command {
	var r domain.Recipient
	var actorID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a payable recipient",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if r.ID == "" {
					r.ID = newID()
				}
				if actorID != "" {
					r.ActorID = &actorID
				}
				r.Active = true
				r.CreatedAt = time.Now().UTC().Format(time.RFC3339)
				if err := e.Repo.InsertRecipient(ctx, r); err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&r.ID, "id", "", "recipient id (optional)")
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id for an incumbent's own committee")
	cmd.Flags().StringVar(&r.OfficeSought, "office-sought", "", "office sought")
	cmd.Flags().StringVar(&r.Party, "party", "", "party")
	cmd.Flags().StringVar(&r.GatewayID, "gateway-id", "", "gateway recipient id")
	_ = cmd.MarkFlagRequired("office-sought")
	_ = cmd.MarkFlagRequired("party")
	_ = cmd.MarkFlagRequired("gateway-id")
	return cmd
}

func recipientSetActiveCmd() *cobra.Command {
	var active bool
	cmd := &cobra.Command{
		Use:   "set-active <id>",
		Short: "Enable or disable a recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.SetRecipientActive(ctx, args[0], active); err != nil {
					return err
				}
				rec, err := e.Repo.GetRecipient(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	return cmd
}

func statsCmd() *cobra.Command {
	st := &cobra.Command{
		Use:   "stats",
		Short: "Contribution aggregates",
		Long:  "Aggregates count contributions and totals across execution, campaign, outcome, actor, incumbency, party and district. Slices are maintained incrementally on every charge and void; rebuild recomputes them from the ledger.",
	}
	st.AddCommand(statsSliceCmd())
	st.AddCommand(statsSlicesCmd())
	st.AddCommand(statsRebuildCmd())
	return st
}

func statsKeyFlags(cmd *cobra.Command, key *aggregate.Key) {
	cmd.Flags().StringVar(&key.ExecutionID, "execution", "", "trigger execution id")
	cmd.Flags().StringVar(&key.CampaignID, "campaign", "", "campaign id")
	cmd.Flags().StringVar(&key.Outcome, "outcome", "", "outcome index")
	cmd.Flags().StringVar(&key.ActorID, "actor", "", "actor id")
	cmd.Flags().StringVar(&key.Incumbent, "incumbent", "", "incumbent flag (0 or 1)")
	cmd.Flags().StringVar(&key.Party, "party", "", "party")
	cmd.Flags().StringVar(&key.District, "district", "", "district")
}

func statsSliceCmd() *cobra.Command {
	var key aggregate.Key
	cmd := &cobra.Command{
		Use:   "slice",
		Short: "Show one aggregate slice (unset dimensions mean all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := aggregate.GetSlice(ctx, e.DB, key)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	statsKeyFlags(cmd, &key)
	return cmd
}

func statsSlicesCmd() *cobra.Command {
	var key aggregate.Key
	var across []string
	cmd := &cobra.Command{
		Use:   "slices",
		Short: "List slices broken down across dimensions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(across) == 0 {
				return fmt.Errorf("--across required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := aggregate.GetSlices(ctx, e.DB, across, key)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Execution", "Outcome", "Actor", "Incumbent", "Party", "District", "Count", "Total"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.Key.ExecutionID, s.Key.Outcome, s.Key.ActorID, s.Key.Incumbent, s.Key.Party, s.Key.District, s.Count, centsString(s.TotalCents)})
				}
				tw.Render()
				return nil
			})
		},
	}
	statsKeyFlags(cmd, &key)
	cmd.Flags().StringArrayVar(&across, "across", []string{}, "dimension to break down by (repeatable)")
	return cmd
}

func statsRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild all slices from the contribution ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := aggregate.Rebuild(ctx, e.DB); err != nil {
					return err
				}
				fmt.Println("rebuilt")
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Audit event log",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Campaign.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyDeleteCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				raw := make([]byte, 24)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				secret := "pk_" + hex.EncodeToString(raw)
				key := domain.APIKey{
					ID:        newID(),
					ActorID:   viper.GetString("actor-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				out := map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": secret}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("API key %s created for %s.\nKey (shown once): %s\n", key.ID, key.ActorID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg, newGateway(cfg))
			if _, err := app.EnsureCampaign(cmd.Context(), e.Repo, cfg); err != nil {
				return err
			}
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("PLEDGELINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("PLEDGELINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Pledgeline API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg, newGateway(cfg))
	if _, err := app.EnsureCampaign(ctx, e.Repo, cfg); err != nil {
		return err
	}
	return fn(ctx, e)
}

func newGateway(cfg *config.Config) gateway.Client {
	if cfg.Gateway.Dummy {
		return gateway.NewDummy()
	}
	return gateway.NewHTTPClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.APISecret, cfg.LiveTimeout(), cfg.BatchTimeout())
}

func newID() string {
	return uuid.NewString()
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func centsString(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
