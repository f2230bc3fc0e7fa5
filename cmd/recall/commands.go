package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/recall/internal/config"
)

// --- questions ---

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Manage stored questions",
}

var questionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored questions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		page, _ := cmd.Flags().GetInt("page")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/questions?page=%d&limit=%d", page, limit))
		if err != nil {
			return err
		}

		var questions []struct {
			UUID      string `json:"uuid"`
			Text      string `json:"text"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &questions); err != nil {
			return err
		}

		if len(questions) == 0 {
			fmt.Println("No questions found.")
			return nil
		}

		for _, q := range questions {
			text := q.Text
			if len(text) > 80 {
				text = text[:80] + "..."
			}
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, q.UUID[:8]),
				q.CreatedAt,
				text,
			)
		}
		return nil
	},
}

var questionsAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Store a question, optionally with its answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		answer, _ := cmd.Flags().GetString("answer")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"text": text}
		if answer != "" {
			req["answer"] = answer
		}

		resp, err := client.post(cmd.Context(), "/questions", req)
		if err != nil {
			return err
		}

		var result struct {
			UUID string `json:"uuid"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stored question %s", result.UUID)
		return nil
	},
}

var questionsShowCmd = &cobra.Command{
	Use:   "show <uuid>",
	Short: "Show a single question as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/questions/"+args[0])
		if err != nil {
			return err
		}

		var q any
		if err := decodeJSON(resp, &q); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(q)
	},
}

var questionsDeleteCmd = &cobra.Command{
	Use:   "delete <uuid>",
	Short: "Delete a question and its index entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/questions/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted question %s", args[0])
		return nil
	},
}

var questionsTuneCmd = &cobra.Command{
	Use:   "tune <uuid>",
	Short: "Run fine-tune linkage for an answered question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/questions/"+args[0]+"/finetune", map[string]any{})
		if err != nil {
			return err
		}

		var q struct {
			FTMethod    string   `json:"ft_method"`
			FTBatchUUID string   `json:"ft_batch_uuid"`
			Similar     []string `json:"similar_questions"`
		}
		if err := decodeJSON(resp, &q); err != nil {
			return err
		}

		if q.FTMethod == "deep" {
			printSuccess("Question queued into batch %s", q.FTBatchUUID)
		} else {
			printSuccess("Question linked to %d similar questions", len(q.Similar))
		}
		return nil
	},
}

func init() {
	questionsListCmd.Flags().Int("limit", 20, "maximum number of questions to list")
	questionsListCmd.Flags().Int("page", 0, "page number")
	questionsAddCmd.Flags().String("answer", "", "answer text; answered questions become searchable")
	questionsCmd.AddCommand(questionsListCmd)
	questionsCmd.AddCommand(questionsAddCmd)
	questionsCmd.AddCommand(questionsShowCmd)
	questionsCmd.AddCommand(questionsDeleteCmd)
	questionsCmd.AddCommand(questionsTuneCmd)
}

// --- search / ask ---

var searchCmd = &cobra.Command{
	Use:   "search <message>",
	Short: "Find stored answer candidates for a message",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/search", map[string]any{"message": message})
		if err != nil {
			return err
		}

		var result struct {
			Candidates []struct {
				UUID       string `json:"uuid"`
				Name       string `json:"name"`
				Text       string `json:"text"`
				Similarity int    `json:"similarity"`
			} `json:"candidates"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Candidates) == 0 {
			fmt.Println("No candidates found.")
			return nil
		}

		for i, c := range result.Candidates {
			fmt.Printf("\n%s [similarity: %d]\n", colorize(colorBold, fmt.Sprintf("Candidate %d", i+1)), c.Similarity)
			fmt.Printf("  Q: %s\n", c.Name)
			text := c.Text
			if len(text) > 500 {
				text = text[:500] + "..."
			}
			fmt.Printf("  A: %s\n", text)
		}
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Draft an answer to a message from the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/answer", map[string]any{"message": message})
		if err != nil {
			return err
		}

		var result struct {
			Answer     string `json:"answer"`
			Candidates []any  `json:"candidates"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Candidates) == 0 {
			fmt.Println("No stored answers cover this message.")
			return nil
		}

		fmt.Println(result.Answer)
		fmt.Fprintf(os.Stderr, "\n(drafted from %d candidates)\n", len(result.Candidates))
		return nil
	},
}

// --- documents ---

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage source documents",
}

var documentsAddCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Upload a document (text, HTML, or PDF)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		analyze, _ := cmd.Flags().GetBool("analyze")

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		contentType := "text/plain"
		content := string(data)
		switch strings.ToLower(filepath.Ext(path)) {
		case ".pdf":
			contentType = "application/pdf"
			content = base64.StdEncoding.EncodeToString(data)
		case ".html", ".htm":
			contentType = "text/html"
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/documents", map[string]any{
			"name":         filepath.Base(path),
			"content_type": contentType,
			"content":      content,
		})
		if err != nil {
			return err
		}

		var doc struct {
			UUID string `json:"uuid"`
		}
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}
		printSuccess("Stored document %s", doc.UUID)

		if !analyze {
			return nil
		}

		printStep("Generating questions...")
		aResp, err := client.post(cmd.Context(), "/documents/"+doc.UUID+"/analyze", map[string]any{})
		if err != nil {
			return err
		}
		var aResult struct {
			Questions []any `json:"questions"`
		}
		if err := decodeJSON(aResp, &aResult); err != nil {
			return err
		}
		printSuccess("Generated %d questions", len(aResult.Questions))
		return nil
	},
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/documents")
		if err != nil {
			return err
		}

		var docs []struct {
			UUID      string `json:"uuid"`
			Name      string `json:"name"`
			Questions int    `json:"questions"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents found.")
			return nil
		}

		for _, d := range docs {
			fmt.Printf("%s  %s  %s (%d questions)\n",
				colorize(colorCyan, d.UUID[:8]),
				d.CreatedAt,
				d.Name,
				d.Questions,
			)
		}
		return nil
	},
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete <uuid>",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/documents/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted document %s", args[0])
		return nil
	},
}

func init() {
	documentsAddCmd.Flags().Bool("analyze", false, "generate questions from the document after upload")
	documentsCmd.AddCommand(documentsAddCmd)
	documentsCmd.AddCommand(documentsListCmd)
	documentsCmd.AddCommand(documentsDeleteCmd)
}

// --- tuning ---

var tuningCmd = &cobra.Command{
	Use:   "tuning",
	Short: "Manage fine-tuning batches",
}

var tuningListCmd = &cobra.Command{
	Use:   "list",
	Short: "List fine-tuning batches",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/tuning")
		if err != nil {
			return err
		}

		var batches []struct {
			UUID      string `json:"uuid"`
			Status    string `json:"status"`
			Queued    int    `json:"queued"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &batches); err != nil {
			return err
		}

		if len(batches) == 0 {
			fmt.Println("No tuning batches found.")
			return nil
		}

		for _, b := range batches {
			fmt.Printf("%s  %s  %s (%d queued)\n",
				colorize(colorCyan, b.UUID[:8]),
				b.CreatedAt,
				b.Status,
				b.Queued,
			)
		}
		return nil
	},
}

var tuningShowCmd = &cobra.Command{
	Use:   "show <uuid>",
	Short: "Show a batch as JSON, refreshing its job status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/tuning/"+args[0])
		if err != nil {
			return err
		}

		var b any
		if err := decodeJSON(resp, &b); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	},
}

var tuningOffloadCmd = &cobra.Command{
	Use:   "offload <uuid>",
	Short: "Ship a batch to the provider as a fine-tuning job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/tuning/"+args[0]+"/offload", map[string]any{})
		if err != nil {
			return err
		}

		var b struct {
			JobID  string `json:"fine_tuning_job_id"`
			Status string `json:"status"`
		}
		if err := decodeJSON(resp, &b); err != nil {
			return err
		}

		printSuccess("Offloaded batch %s as job %s (%s)", args[0], b.JobID, b.Status)
		return nil
	},
}

var tuningEventsCmd = &cobra.Command{
	Use:   "events <uuid>",
	Short: "Show the provider event log for a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/tuning/"+args[0]+"/events")
		if err != nil {
			return err
		}

		var result struct {
			Events []struct {
				CreatedAt int64  `json:"created_at"`
				Level     string `json:"level"`
				Message   string `json:"message"`
			} `json:"events"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Events) == 0 {
			fmt.Println("No events.")
			return nil
		}

		for _, e := range result.Events {
			fmt.Printf("%s  %s\n", e.Level, e.Message)
		}
		return nil
	},
}

var tuningImportCmd = &cobra.Command{
	Use:   "import <uuid> <file>",
	Short: "Import curriculum pairs (JSONL) into a preparing batch",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/tuning/"+args[0]+"/curriculum", map[string]any{
			"jsonl": string(data),
		})
		if err != nil {
			return err
		}

		var b struct {
			Curriculum []any `json:"curriculum"`
		}
		if err := decodeJSON(resp, &b); err != nil {
			return err
		}

		printSuccess("Batch now holds %d curriculum pairs", len(b.Curriculum))
		return nil
	},
}

var tuningDeleteCmd = &cobra.Command{
	Use:   "delete <uuid>",
	Short: "Delete a batch, detaching its queued questions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetBool("keep-curriculum")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/tuning/" + args[0]
		if keep {
			path += "?keep_curriculum=true"
		}
		resp, err := client.delete(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted batch %s", args[0])
		return nil
	},
}

func init() {
	tuningDeleteCmd.Flags().Bool("keep-curriculum", false, "move curriculum pairs into the open batch before deleting")
	tuningCmd.AddCommand(tuningListCmd)
	tuningCmd.AddCommand(tuningShowCmd)
	tuningCmd.AddCommand(tuningOffloadCmd)
	tuningCmd.AddCommand(tuningEventsCmd)
	tuningCmd.AddCommand(tuningImportCmd)
	tuningCmd.AddCommand(tuningDeleteCmd)
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

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
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
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret in the platform secret store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetSecret(key, value); err != nil {
			return err
		}

		printSuccess("Stored secret %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
