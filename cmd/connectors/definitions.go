package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-connectors/bpmn"
	connectorscommand "github.com/goliatone/go-connectors/command"
	"github.com/goliatone/go-connectors/core"
	connectorsquery "github.com/goliatone/go-connectors/query"
)

func deployCmd(opts *rootOptions) *cobra.Command {
	var (
		processID string
		tenantID  string
	)
	cmd := &cobra.Command{
		Use:   "deploy [model.bpmn]",
		Short: "Deploy a process model as the next version of its process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			points, err := bpmn.Parse(model, processID)
			if err != nil {
				return err
			}
			return withDefinitionStore(cmd.Context(), opts, func(ctx context.Context, store core.DefinitionRepository) error {
				collector := gocmd.NewResult[core.ProcessDefinitionRef]()
				err := connectorscommand.NewDeployDefinitionCommand(store).Execute(
					gocmd.ContextWithResult(ctx, collector),
					connectorscommand.DeployDefinitionMessage{Input: core.DeployDefinitionInput{
						TenantID:  tenantID,
						ProcessID: processID,
						Model:     model,
					}},
				)
				if err != nil {
					return err
				}
				ref, _ := collector.Load()
				fmt.Fprintf(cmd.OutOrStdout(), "deployed %s with %d inbound points\n", ref, len(points))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&processID, "process", "p", "", "process id inside the model")
	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant id")
	_ = cmd.MarkFlagRequired("process")
	return cmd
}

func undeployCmd(opts *rootOptions) *cobra.Command {
	var (
		definitionKey int64
		tenantID      string
	)
	cmd := &cobra.Command{
		Use:   "undeploy",
		Short: "Undeploy a definition; running runtimes drop its subscriptions on the next cycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDefinitionStore(cmd.Context(), opts, func(ctx context.Context, store core.DefinitionRepository) error {
				ref := core.ProcessDefinitionRef{TenantID: tenantID, DefinitionKey: definitionKey}
				err := connectorscommand.NewUndeployDefinitionCommand(store).Execute(ctx,
					connectorscommand.UndeployDefinitionMessage{Definition: ref},
				)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "undeployed definition key %d\n", definitionKey)
				return nil
			})
		},
	}
	cmd.Flags().Int64VarP(&definitionKey, "key", "k", 0, "definition key")
	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant id")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func definitionsCmd(opts *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "definitions",
		Short: "List deployed process definitions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDefinitionStore(cmd.Context(), opts, func(ctx context.Context, store core.DefinitionRepository) error {
				definitions, err := connectorsquery.NewListDefinitionsQuery(store).Query(ctx,
					connectorsquery.ListDefinitionsMessage{IncludeUndeployed: all},
				)
				if err != nil {
					return err
				}
				return printDefinitions(cmd.OutOrStdout(), definitions)
			})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include undeployed definitions")
	return cmd
}

func withDefinitionStore(
	ctx context.Context,
	opts *rootOptions,
	fn func(ctx context.Context, store core.DefinitionRepository) error,
) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(ctx, opts.configPath)
	if err != nil {
		return err
	}
	client, stores, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(ctx, stores.DefinitionStore())
}

func printDefinitions(out io.Writer, definitions []core.DeployedDefinition) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tTENANT\tPROCESS\tVERSION\tDEPLOYED\tSTATUS")
	for _, definition := range definitions {
		status := "deployed"
		if !definition.Active() {
			status = "undeployed " + definition.DeletedAt.Format(time.RFC3339)
		}
		tenant := definition.Ref.TenantID
		if strings.TrimSpace(tenant) == "" {
			tenant = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
			definition.Ref.DefinitionKey,
			tenant,
			definition.Ref.ProcessID,
			definition.Ref.Version,
			definition.DeployedAt.Format(time.RFC3339),
			status,
		)
	}
	return w.Flush()
}
