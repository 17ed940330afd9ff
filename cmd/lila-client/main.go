// Command lila-client asks a lila server what to rebuild, rebuilds it and
// attests the resulting output hashes.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lila-repro/lila/internal/client"
	"github.com/lila-repro/lila/internal/executor"
	"github.com/lila-repro/lila/internal/external"
	"github.com/lila-repro/lila/internal/log"
	"github.com/lila-repro/lila/pkg/repro"
	"github.com/lila-repro/lila/pkg/types"
)

// errFlagRetrieval is the error message for when a flag cannot be retrieved.
var errFlagRetrieval = errors.New("error getting flag")

// errRequiredFlagEmpty is the error message for a required flag that is empty.
var errRequiredFlagEmpty = errors.New("is required and cannot be empty")

func main() {
	if err := Execute(context.Background(), os.Args[1:], nil); err != nil {
		os.Exit(1)
	}
}

// Execute runs the client with args. A nil commandExecutor runs real nix commands.
func Execute(ctx context.Context, args []string, commandExecutor types.CommandExecutor) error {
	rootCmd := newRootCmd(commandExecutor)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCmd(commandExecutor types.CommandExecutor) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "lila-client",
		Short:        "Rebuild suggested outputs and attest them to a lila server",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			server, err := cmd.Flags().GetString("server")
			if err != nil {
				return fmt.Errorf("%w: server: %w", errFlagRetrieval, err)
			}
			if server == "" {
				return fmt.Errorf("server %w", errRequiredFlagEmpty)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringP("server", "s", os.Getenv("LILA_SERVER"), "URL of the lila server (env LILA_SERVER)")
	rootCmd.PersistentFlags().StringP("token", "t", os.Getenv("LILA_TOKEN"), "Bearer token of the submitter (env LILA_TOKEN)")

	rootCmd.AddCommand(
		newSuggestCmd(commandExecutor),
		newSummaryCmd(),
		newAttestCmd(commandExecutor),
	)
	return rootCmd
}

func newClient(cmd *cobra.Command) (*client.Client, error) {
	server, _ := cmd.Flags().GetString("server") //nolint:errcheck
	token, _ := cmd.Flags().GetString("token")   //nolint:errcheck
	return client.New(cmd.Context(), server, token, nil)
}

func commandExecutorFor(ctx context.Context, commandExecutor types.CommandExecutor) types.CommandExecutor {
	if commandExecutor != nil {
		return commandExecutor
	}
	return executor.NewCommandExecutor(ctx)
}

func requiredString(cmd *cobra.Command, name string) (string, error) {
	value, err := cmd.Flags().GetString(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", errFlagRetrieval, name, err)
	}
	if value == "" {
		return "", fmt.Errorf("%s %w", name, errRequiredFlagEmpty)
	}
	return value, nil
}

func newSuggestCmd(commandExecutor types.CommandExecutor) *cobra.Command {
	suggestCmd := &cobra.Command{
		Use:   "suggest",
		Short: "List, or with --build rebuild, the outputs of a report worth rebuilding",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := requiredString(cmd, "report")
			if err != nil {
				return err
			}
			build, _ := cmd.Flags().GetBool("build")            //nolint:errcheck
			parallelism, _ := cmd.Flags().GetInt("parallelism") //nolint:errcheck

			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			elements, err := c.Suggest(ctx, report)
			if err != nil {
				return fmt.Errorf("error fetching suggestions: %w", err)
			}
			if !build {
				for _, e := range elements {
					fmt.Fprintln(cmd.OutOrStdout(), client.Installable(e))
				}
				return nil
			}
			rebuilder, err := client.NewRebuilder(commandExecutorFor(ctx, commandExecutor), c, parallelism)
			if err != nil {
				return err
			}
			return rebuilder.Rebuild(ctx, elements)
		},
	}
	suggestCmd.Flags().StringP("report", "r", "", "Report name")
	suggestCmd.Flags().BoolP("build", "b", false, "Rebuild the suggestions and attest the results")
	suggestCmd.Flags().IntP("parallelism", "j", client.DefaultParallelism, "Number of concurrent builds")
	return suggestCmd
}

func newSummaryCmd() *cobra.Command {
	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the reproducibility state of every output of a report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := requiredString(cmd, "report")
			if err != nil {
				return err
			}
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			states, err := c.Summary(cmd.Context(), report)
			if err != nil {
				return fmt.Errorf("error fetching summary: %w", err)
			}
			printSummary(cmd.OutOrStdout(), states)
			return nil
		},
	}
	summaryCmd.Flags().StringP("report", "r", "", "Report name")
	return summaryCmd
}

func printSummary(w io.Writer, states map[string]repro.State) {
	paths := make([]string, 0, len(states))
	for path := range states {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		fmt.Fprintf(w, "%s %s %s\n", states[path].Icon(), path, states[path].Label())
	}
}

func newAttestCmd(commandExecutor types.CommandExecutor) *cobra.Command {
	attestCmd := &cobra.Command{
		Use:   "attest --drv <drv path> <output path>...",
		Short: "Hash locally built outputs of a derivation and attest them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			drvPath, err := requiredString(cmd, "drv")
			if err != nil {
				return err
			}
			drvHash, err := repro.ParseDerivationPath(drvPath)
			if err != nil {
				return err
			}
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			runner := commandExecutorFor(ctx, commandExecutor)

			requests := make([]external.AttestationRequest, 0, len(args))
			for _, path := range args {
				hash, err := client.HashPath(runner, path)
				if err != nil {
					return err
				}
				requests = append(requests, external.AttestationRequest{OutputPath: path, OutputHash: hash})
			}
			if err := c.Attest(ctx, drvHash, requests); err != nil {
				return fmt.Errorf("error posting attestations: %w", err)
			}
			log.NewLogger(ctx).Info("Attested outputs", zap.String("drv", drvHash), zap.Int("count", len(requests)))
			fmt.Fprintf(cmd.OutOrStdout(), "Attested %d output(s) of %s\n", len(requests), drvHash)
			return nil
		},
	}
	attestCmd.Flags().StringP("drv", "d", "", "Derivation path, e.g. /nix/store/<hash>-<name>.drv")
	return attestCmd
}
