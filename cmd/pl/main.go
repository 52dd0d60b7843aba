package main

import (
	"context"
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

	"pilotline/internal/config"
	"pilotline/internal/control"
	"pilotline/internal/db"
	"pilotline/internal/domain"
	"pilotline/internal/migrate"
	"pilotline/internal/repo"
	"pilotline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Pilotline CLI",
	Long: `Pilotline is the control plane for orchestration nodes.
It launches orchestrations on worker nodes, queues runtime control actions
(pause, resume, retry, policy and task changes) with exactly-once semantics,
and keeps a durable audit trail of everything that was asked for.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
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
	viper.SetEnvPrefix("PILOTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("requested-by", "local-user", "requester identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("requested-by", rootCmd.PersistentFlags().Lookup("requested-by"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(designCmd())
	rootCmd.AddCommand(nodeCmd())
	rootCmd.AddCommand(orchestrationCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}

	var name, id string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withProcessor(cmd.Context(), func(ctx context.Context, p control.Processor) error {
				proj := domain.Project{
					ID:        orNewID(id),
					Name:      name,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := p.Repo.InsertProject(ctx, proj); err != nil {
					return err
				}
				return printJSONOrTable(proj)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "project name")
	create.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	prj.AddCommand(create)

	prj.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p control.Processor) error {
				items, err := p.Repo.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Name, it.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	return prj
}

func designCmd() *cobra.Command {
	dsg := &cobra.Command{Use: "design", Short: "Manage designs"}

	var projectID, title, id string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create design",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" || title == "" {
				return fmt.Errorf("--project and --title required")
			}
			return withProcessor(cmd.Context(), func(ctx context.Context, p control.Processor) error {
				if _, err := p.Repo.GetProject(ctx, projectID); err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						return fmt.Errorf("Project not found")
					}
					return err
				}
				d := domain.Design{
					ID:        orNewID(id),
					ProjectID: projectID,
					Title:     title,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := p.Repo.InsertDesign(ctx, d); err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	create.Flags().StringVar(&projectID, "project", "", "project id")
	create.Flags().StringVar(&title, "title", "", "design title")
	create.Flags().StringVar(&id, "id", "", "design id (generated when empty)")
	dsg.AddCommand(create)
	return dsg
}

func nodeCmd() *cobra.Command {
	node := &cobra.Command{Use: "node", Short: "Manage worker nodes"}

	var name, webhookURL string
	register := &cobra.Command{
		Use:   "register <node-id>",
		Short: "Register or update a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withProcessor(cmd.Context(), func(ctx context.Context, p control.Processor) error {
				n := domain.Node{
					ID:        args[0],
					Name:      name,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if webhookURL != "" {
					n.WebhookURL = &webhookURL
				}
				if err := p.Repo.UpsertNode(ctx, n); err != nil {
					return err
				}
				stored, err := p.Repo.GetNode(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(stored)
			})
		},
	}
	register.Flags().StringVar(&name, "name", "", "node name")
	register.Flags().StringVar(&webhookURL, "webhook-url", "", "push-notification endpoint")
	node.AddCommand(register)

	node.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p control.Processor) error {
				items, err := p.Repo.ListNodes(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Last Heartbeat"})
				for _, n := range items {
					tw.AppendRow(table.Row{n.ID, n.Name, n.LastHeartbeatAt})
				}
				tw.Render()
				return nil
			})
		},
	})

	node.AddCommand(&cobra.Command{
		Use:   "heartbeat <node-id>",
		Short: "Record a heartbeat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p control.Processor) error {
				ts := time.Now().UTC().Format(time.RFC3339)
				if err := p.Repo.RecordHeartbeat(ctx, args[0], ts); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"node_id": args[0], "last_heartbeat_at": ts})
			})
		},
	})
	return node
}

func orchestrationCmd() *cobra.Command {
	orch := &cobra.Command{Use: "orchestration", Short: "Manage orchestrations"}

	var (
		projectID, designID, nodeID string
		feature, branch, preset     string
		totalPhases                 int
		tickets                     []string
		idemKey                     string
	)
	launch := &cobra.Command{
		Use:   "launch",
		Short: "Launch an orchestration on a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			if idemKey == "" {
				return fmt.Errorf("--idempotency-key required")
			}
			return withProcessor(cmd.Context(), func(ctx context.Context, p control.Processor) error {
				res, err := p.LaunchOrchestration(ctx, control.LaunchOptions{
					ProjectID:      projectID,
					DesignID:       designID,
					NodeID:         nodeID,
					Feature:        feature,
					Branch:         branch,
					TotalPhases:    totalPhases,
					TicketIDs:      tickets,
					PolicyPreset:   preset,
					RequestedBy:    viper.GetString("requested-by"),
					IdempotencyKey: idemKey,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"orchestration_id": res.OrchestrationID,
					"action_id":        res.ActionID,
				})
			})
		},
	}
	launch.Flags().StringVar(&projectID, "project", "", "project id")
	launch.Flags().StringVar(&designID, "design", "", "design id")
	launch.Flags().StringVar(&nodeID, "node", "", "node id")
	launch.Flags().StringVar(&feature, "feature", "", "feature name")
	launch.Flags().StringVar(&branch, "branch", "", "working branch")
	launch.Flags().IntVar(&totalPhases, "phases", 1, "total phases")
	launch.Flags().StringSliceVar(&tickets, "ticket", nil, "ticket id (repeatable)")
	launch.Flags().StringVar(&preset, "preset", "balanced", "policy preset")
	launch.Flags().StringVar(&idemKey, "idempotency-key", "", "client idempotency key")
	orch.AddCommand(launch)

	var listProject string
	list := &cobra.Command{
		Use:   "list",
		Short: "List orchestrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p control.Processor) error {
				items, err := p.Repo.ListOrchestrations(ctx, listProject)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Feature", "Status", "Node", "Phases", "Policy Rev"})
				for _, o := range items {
					tw.AppendRow(table.Row{o.ID, o.FeatureName, o.Status, o.NodeID, o.TotalPhases, o.PolicyRevision})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listProject, "project", "", "filter by project id")
	orch.AddCommand(list)

	orch.AddCommand(&cobra.Command{
		Use:   "show <orchestration-id>",
		Short: "Show orchestration detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p control.Processor) error {
				detail, err := p.GetOrchestrationDetail(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(detail)
				}
				o := detail.Orchestration
				fmt.Printf("Orchestration %s\n  feature: %s\n  status: %s\n  node: %s\n  policy revision: %d\n  preset: %s\n",
					o.ID, o.FeatureName, o.Status, o.NodeID, o.PolicyRevision, o.PresetOrigin)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Phase", "Task", "Subject", "Status", "Model", "Rev"})
				for _, t := range detail.Tasks {
					tw.AppendRow(table.Row{t.PhaseNumber, t.TaskNumber, t.Subject, t.Status, t.Model, t.Revision})
				}
				tw.Render()
				return nil
			})
		},
	})

	var deleteStep bool
	del := &cobra.Command{
		Use:   "delete <orchestration-id>",
		Short: "Delete an orchestration and its dependent rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p control.Processor) error {
				var res control.DeleteResult
				var err error
				if deleteStep {
					res, err = p.DeleteOrchestration(ctx, args[0])
				} else {
					res, err = p.DeleteOrchestrationFully(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	del.Flags().BoolVar(&deleteStep, "step", false, "perform a single bounded deletion step")
	orch.AddCommand(del)
	return orch
}

func actionCmd() *cobra.Command {
	act := &cobra.Command{Use: "action", Short: "Queue and inspect control actions"}

	var actionType, payload, idemKey, nodeID string
	enqueue := &cobra.Command{
		Use:   "enqueue <orchestration-id>",
		Short: "Enqueue a runtime control action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if idemKey == "" {
				return fmt.Errorf("--idempotency-key required")
			}
			return withProcessor(cmd.Context(), func(ctx context.Context, p control.Processor) error {
				id, err := p.EnqueueControlAction(ctx, control.EnqueueOptions{
					OrchestrationID: args[0],
					NodeID:          nodeID,
					ActionType:      actionType,
					Payload:         payload,
					RequestedBy:     viper.GetString("requested-by"),
					IdempotencyKey:  idemKey,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"action_id": id})
			})
		},
	}
	enqueue.Flags().StringVar(&actionType, "type", "", "action type")
	enqueue.Flags().StringVar(&payload, "payload", "{}", "JSON payload")
	enqueue.Flags().StringVar(&nodeID, "node", "", "target node (defaults to the orchestration's node)")
	enqueue.Flags().StringVar(&idemKey, "idempotency-key", "", "client idempotency key")
	act.AddCommand(enqueue)

	var limit int
	list := &cobra.Command{
		Use:   "list <orchestration-id>",
		Short: "List control actions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p control.Processor) error {
				items, err := p.ListControlActions(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Requested By", "Created"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.ActionType, a.Status, a.RequestedBy, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 0, "max rows (default 50)")
	act.AddCommand(list)

	act.AddCommand(&cobra.Command{
		Use:   "claim <node-id>",
		Short: "Claim the oldest pending action for a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p control.Processor) error {
				a, ok, err := p.ClaimNextInboundAction(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("queue empty")
					return nil
				}
				return printJSONOrTable(a)
			})
		},
	})

	act.AddCommand(&cobra.Command{
		Use:   "complete <node-id> <action-id>",
		Short: "Complete a claimed action",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p control.Processor) error {
				if err := p.CompleteInboundAction(ctx, args[1], args[0]); err != nil {
					return err
				}
				fmt.Println("completed")
				return nil
			})
		},
	})
	return act
}

func policyCmd() *cobra.Command {
	pol := &cobra.Command{Use: "policy", Short: "Inspect orchestration policies"}

	pol.AddCommand(&cobra.Command{
		Use:   "show <orchestration-id>",
		Short: "Show the stored policy snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p control.Processor) error {
				snap, err := p.GetLatestPolicySnapshot(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(snap)
			})
		},
	})

	pol.AddCommand(&cobra.Command{
		Use:   "active <orchestration-id>",
		Short: "Show the live policy (snapshot plus node overlay)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p control.Processor) error {
				policy, err := p.GetActivePolicy(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(policy)
			})
		},
	})

	var revision int
	var policyJSON string
	var idemKey string
	set := &cobra.Command{
		Use:   "set <orchestration-id>",
		Short: "Replace the policy snapshot (guarded by revision)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if idemKey == "" {
				return fmt.Errorf("--idempotency-key required")
			}
			payload, err := json.Marshal(map[string]any{
				"targetPolicyRevision": revision,
				"policy":               json.RawMessage(policyJSON),
			})
			if err != nil {
				return err
			}
			return withProcessor(cmd.Context(), func(ctx context.Context, p control.Processor) error {
				id, err := p.EnqueueControlAction(ctx, control.EnqueueOptions{
					OrchestrationID: args[0],
					ActionType:      "orchestration_set_policy",
					Payload:         string(payload),
					RequestedBy:     viper.GetString("requested-by"),
					IdempotencyKey:  idemKey,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"action_id": id})
			})
		},
	}
	set.Flags().IntVar(&revision, "revision", 0, "expected policy revision")
	set.Flags().StringVar(&policyJSON, "policy", "{}", "policy JSON")
	set.Flags().StringVar(&idemKey, "idempotency-key", "", "client idempotency key")
	pol.AddCommand(set)
	return pol
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default pilotline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
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
			p := control.New(conn, cfg)
			handler, err := server.New(server.Config{Processor: p, BasePath: basePath})
			if err != nil {
				return err
			}
			server.StartDispatcher(p)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Pilotline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func withProcessor(ctx context.Context, fn func(context.Context, control.Processor) error) error {
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
	return fn(ctx, control.New(conn, cfg))
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

func orNewID(requested string) string {
	if requested != "" {
		return requested
	}
	return uuid.New().String()
}
