package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
	"github.com/marvijo-code/ultimate-llm-arena/internal/repotest"
	"github.com/marvijo-code/ultimate-llm-arena/internal/runstore"
	"github.com/marvijo-code/ultimate-llm-arena/internal/tools"
)

var (
	runReq        domain.RepoTestRequest
	runPromptFile string
	runJSON       bool
	batchModels   []string
	historyLimit  int
	keyProvider   string
)

func init() {
	// tools command
	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "List the available coding tools",
		RunE:  runTools,
	}
	rootCmd.AddCommand(toolsCmd)

	// run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one model against a repository and its tests",
		RunE:  runRun,
	}
	addRequestFlags(runCmd)
	runCmd.Flags().StringVar(&runReq.Model, "model", "", "model identifier passed to the tool")
	rootCmd.AddCommand(runCmd)

	// batch command
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Run several models on the same task and rank them",
		RunE:  runBatch,
	}
	addRequestFlags(batchCmd)
	batchCmd.Flags().StringSliceVar(&batchModels, "models", nil, "comma-separated model identifiers")
	rootCmd.AddCommand(batchCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", repotest.DefaultHistoryLimit, "number of runs to show")
	historyCmd.Flags().BoolVar(&runJSON, "json", false, "print JSON")
	rootCmd.AddCommand(historyCmd)

	// show command
	showCmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show one run in detail",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	showCmd.Flags().BoolVar(&runJSON, "json", false, "print JSON")
	rootCmd.AddCommand(showCmd)

	// keys command
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage stored API keys",
	}
	keysCmd.PersistentFlags().StringVar(&keyProvider, "provider", tools.DefaultCredentialProvider, "provider label")
	keysCmd.AddCommand(
		&cobra.Command{
			Use:   "set KEY_NAME [VALUE]",
			Short: "Store a key (reads the value from stdin when omitted)",
			Args:  cobra.RangeArgs(1, 2),
			RunE:  runKeysSet,
		},
		&cobra.Command{
			Use:   "delete KEY_NAME",
			Short: "Delete a stored key",
			Args:  cobra.ExactArgs(1),
			RunE:  runKeysDelete,
		},
		&cobra.Command{
			Use:   "list",
			Short: "List stored keys (masked)",
			RunE:  runKeysList,
		},
	)
	rootCmd.AddCommand(keysCmd)
}

func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&runReq.RepoURL, "repo", "", "git URL of the repository")
	cmd.Flags().StringVar(&runReq.Ref, "ref", "main", "branch, tag or commit")
	cmd.Flags().StringVar(&runReq.Prompt, "prompt", "", "task for the coding tool")
	cmd.Flags().StringVar(&runPromptFile, "prompt-file", "", "read the task from a file")
	cmd.Flags().StringVar(&runReq.TestCommand, "test", "", "command that runs the test suite")
	cmd.Flags().StringVar(&runReq.Tool, "tool", "direct", "coding tool id")
	cmd.Flags().BoolVar(&runJSON, "json", false, "print the result as JSON")
}

// signalContext is cancelled on SIGINT/SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func resolvePrompt() error {
	if runPromptFile == "" {
		return nil
	}
	data, err := os.ReadFile(runPromptFile)
	if err != nil {
		return fmt.Errorf("reading prompt file: %w", err)
	}
	runReq.Prompt = string(data)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runTools(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	for _, t := range a.ctrl.ListTools() {
		kind := "command"
		if t.IsDirect() {
			kind = "direct"
		}
		fmt.Printf("%-14s %-8s %s\n", t.ID, kind, t.Description)
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := resolvePrompt(); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var progress domain.ProgressFunc
	if !runJSON {
		progress = progressPrinter(os.Stderr)
	}
	result, err := a.ctrl.Run(ctx, runReq, progress)
	if err != nil {
		return err
	}
	if runJSON {
		return printJSON(result)
	}

	entries := repotest.BuildLeaderboard([]domain.ModelOutcome{{Model: result.Model, RunID: result.RunID, Result: result}})
	fmt.Println(renderLeaderboard(fmt.Sprintf("Run #%d", result.RunID), entries))
	if result.Status != domain.RunSuccess {
		return fmt.Errorf("run finished with status %s", result.Status)
	}
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	if err := resolvePrompt(); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	req := domain.BatchRequest{
		RepoURL:     runReq.RepoURL,
		Ref:         runReq.Ref,
		Prompt:      runReq.Prompt,
		TestCommand: runReq.TestCommand,
		Tool:        runReq.Tool,
		Models:      batchModels,
	}
	var progress domain.ProgressFunc
	if !runJSON {
		progress = progressPrinter(os.Stderr)
	}
	result, err := a.batch(false).RunBatch(ctx, req, progress)
	if err != nil {
		return err
	}
	if runJSON {
		return printJSON(result)
	}
	fmt.Println(renderLeaderboard("Leaderboard "+result.BatchID, result.Leaderboard))
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	_, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if runJSON {
		if runs == nil {
			runs = []*domain.RunRecord{}
		}
		return printJSON(runs)
	}
	fmt.Println(renderHistory(runs, time.Now()))
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid run id %q", args[0])
	}

	_, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.GetRun(cmd.Context(), id)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %d not found", id)
	}
	if runJSON {
		return printJSON(run)
	}

	fmt.Println(renderRun(run, time.Now()))
	if run.BatchID != "" {
		batchRuns, err := store.ListBatchRuns(cmd.Context(), run.BatchID)
		if err != nil {
			return err
		}
		fmt.Println(renderLeaderboard("Batch leaderboard", repotest.LeaderboardFromRecords(batchRuns)))
	}
	return nil
}

func runKeysSet(cmd *cobra.Command, args []string) error {
	value := ""
	if len(args) == 2 {
		value = args[1]
	} else {
		fmt.Fprintf(os.Stderr, "Value for %s: ", args[0])
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading key value: %w", err)
		}
		value = line
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return errors.New("key value must not be empty")
	}

	_, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SetCredential(cmd.Context(), args[0], keyProvider, value); err != nil {
		return err
	}
	fmt.Printf("Stored %s (%s)\n", args[0], runstore.Mask(value))
	return nil
}

func runKeysDelete(cmd *cobra.Command, args []string) error {
	_, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteCredential(cmd.Context(), args[0], keyProvider); err != nil {
		if errors.Is(err, runstore.ErrNotFound) {
			return fmt.Errorf("no stored key %s for provider %s", args[0], keyProvider)
		}
		return err
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	_, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := store.ListCredentials(cmd.Context())
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Println("No stored keys")
		return nil
	}
	for _, k := range keys {
		fmt.Printf("%-24s %-12s %s\n", k.KeyName, k.Provider, k.Masked)
	}
	return nil
}
