package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/crmai/internal/api"
	"github.com/kalambet/crmai/internal/config"
	"github.com/kalambet/crmai/internal/prediction"
	"github.com/kalambet/crmai/internal/renewal"
	"github.com/kalambet/crmai/internal/storage"
)

// --- train ---

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Retrain the renewal model on the upstream contract history",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runTrain(cmd.Context(), client)
	},
}

func runTrain(ctx context.Context, client *apiClient) error {
	printStep("Training on upstream contracts...")
	resp, err := client.post(ctx, "/train", nil)
	if err != nil {
		return err
	}

	var st prediction.TrainStatus
	if err := decodeJSON(resp, &st); err != nil {
		return err
	}

	if !st.Trained {
		printWarning("Only %d contracts available; more than %d are needed, model unchanged",
			st.ContractsUsed, renewal.MinTrainingRecords)
		return nil
	}
	printSuccess("Model trained on %d contracts", st.ContractsUsed)
	return nil
}

// --- predict ---

var predictCmd = &cobra.Command{
	Use:   "predict <contract-id>",
	Short: "Predict whether a contract will be renewed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid contract id %q", args[0])
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runPredict(cmd.Context(), client, id, asJSON)
	},
}

func init() {
	predictCmd.Flags().Bool("json", false, "print the raw JSON result")
}

func runPredict(ctx context.Context, client *apiClient, id int64, asJSON bool) error {
	resp, err := client.post(ctx, "/predict-renewal", map[string]int64{"contract_id": id})
	if err != nil {
		return err
	}

	var res renewal.Result
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	if asJSON {
		return printJSON(res)
	}

	if res.WillRenew == nil {
		printWarning("Contract #%d: %s (%s)", id, res.Prediction, res.Action)
		return nil
	}
	verdict := "unlikely to renew"
	if *res.WillRenew {
		verdict = "likely to renew"
	}
	fmt.Fprintf(stdout, "Contract #%d: %s\n", id, colorize(colorBold, verdict))
	fmt.Fprintf(stdout, "  confidence: %.0f%%\n", res.Confidence*100)
	fmt.Fprintf(stdout, "  action:     %s\n", res.Action)
	return nil
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <question>",
	Short: "Ask a question about the CRM data",
	Long: `Ask a question about the CRM data.

Examples:
  crmai chat "How many active contracts do we have?"
  crmai chat Which client brings the most revenue`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runChat(cmd.Context(), client, strings.Join(args, " "))
	},
}

func runChat(ctx context.Context, client *apiClient, question string) error {
	resp, err := client.post(ctx, "/chat", map[string]string{"message": question})
	if err != nil {
		return err
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	fmt.Fprintln(stdout, out.Response)
	return nil
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "Browse answered questions",
}

var interactionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listInteractions(cmd.Context(), client, limit)
	},
}

var interactionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single answered question with its prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/interactions/"+args[0])
		if err != nil {
			return err
		}

		var interaction any
		if err := decodeJSON(resp, &interaction); err != nil {
			return err
		}
		return printJSON(interaction)
	},
}

func init() {
	interactionsListCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	interactionsCmd.AddCommand(interactionsListCmd)
	interactionsCmd.AddCommand(interactionsShowCmd)
}

func listInteractions(ctx context.Context, client *apiClient, limit int) error {
	resp, err := client.get(ctx, fmt.Sprintf("/interactions?limit=%d", limit))
	if err != nil {
		return err
	}

	var interactions []struct {
		ID        string `json:"id"`
		CreatedAt string `json:"created_at"`
		Question  string `json:"question"`
		Status    string `json:"status"`
	}
	if err := decodeJSON(resp, &interactions); err != nil {
		return err
	}

	if len(interactions) == 0 {
		fmt.Fprintln(stdout, "No interactions found.")
		return nil
	}

	for _, ix := range interactions {
		id := ix.ID
		if len(id) > 8 {
			id = id[:8]
		}
		line := fmt.Sprintf("%s  %s  %s", colorize(colorCyan, id), ix.CreatedAt, truncate(ix.Question, 80))
		if ix.Status != "completed" {
			line += "  " + colorize(colorRed, "["+ix.Status+"]")
		}
		fmt.Fprintln(stdout, line)
	}
	return nil
}

// --- training runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent training runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listTrainingRuns(cmd.Context(), client, limit)
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "maximum number of runs to list")
}

func listTrainingRuns(ctx context.Context, client *apiClient, limit int) error {
	resp, err := client.get(ctx, fmt.Sprintf("/training-runs?limit=%d", limit))
	if err != nil {
		return err
	}

	var runs []struct {
		CreatedAt     string `json:"created_at"`
		Source        string `json:"source"`
		ContractsUsed int    `json:"contracts_used"`
		Trained       bool   `json:"trained"`
		Error         string `json:"error"`
	}
	if err := decodeJSON(resp, &runs); err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Fprintln(stdout, "No training runs found.")
		return nil
	}

	for _, r := range runs {
		outcome := colorize(colorGreen, "trained")
		switch {
		case r.Error != "":
			outcome = colorize(colorRed, "failed: "+r.Error)
		case !r.Trained:
			outcome = colorize(colorYellow, "skipped")
		}
		fmt.Fprintf(stdout, "%s  %-9s  %3d contracts  %s\n", r.CreatedAt, r.Source, r.ContractsUsed, outcome)
	}
	return nil
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the CRM tools over MCP (stdio transport)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		// stdout carries the protocol; logs stay on stderr.
		setupLogging(cfg.Log.Level)

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		svc := buildServices(cfg, store)
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Chat:      svc.chat,
			Predictor: svc.prediction,
			Prober:    svc.aggregator,
			History:   store,
			Version:   version,
		})

		err = server.NewStdioServer(mcpSrv).Listen(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Fprintf(stdout, "# %s\n", config.FilePath())
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "($"+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
