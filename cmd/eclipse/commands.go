package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kalambet/eclipse/internal/client"
	"github.com/kalambet/eclipse/internal/config"
	"github.com/kalambet/eclipse/internal/documents"
	"github.com/kalambet/eclipse/internal/history"
	"github.com/kalambet/eclipse/internal/scan"
	"github.com/kalambet/eclipse/internal/upload"
)

var newAPIClient = func() (*client.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return client.New(cfg.Client.BaseURL, cfg.Client.Timeout), nil
}

func readUpload(path string) (upload.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return upload.File{}, fmt.Errorf("reading file: %w", err)
	}
	return upload.NewFile(filepath.Base(path), "", data), nil
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- scan ---

type scanFlags struct {
	userID   string
	metadata string
	save     bool
	asJSON   bool
}

var scanCmd = &cobra.Command{
	Use:   "scan <image>",
	Short: "Run a mock skin-lesion scan on an image",
	Long: `Run a mock skin-lesion scan on an image.

Results are canned examples, not a diagnosis.

Examples:
  eclipse scan ./lesion.jpg
  eclipse scan ./lesion.png --save
  eclipse scan ./lesion.png --json --metadata '{"bodyPart":"arm"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var f scanFlags
		f.userID, _ = cmd.Flags().GetString("user-id")
		f.metadata, _ = cmd.Flags().GetString("metadata")
		f.save, _ = cmd.Flags().GetBool("save")
		f.asJSON, _ = cmd.Flags().GetBool("json")

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		return runScan(cmd.Context(), c, args[0], f, os.Stdout)
	},
}

func runScan(ctx context.Context, c *client.Client, path string, f scanFlags, w io.Writer) error {
	file, err := readUpload(path)
	if err != nil {
		return err
	}

	opts := client.ScanOptions{UserID: f.userID}
	if f.metadata != "" {
		if !json.Valid([]byte(f.metadata)) {
			return fmt.Errorf("--metadata must be valid JSON")
		}
		opts.Metadata = json.RawMessage(f.metadata)
	}

	printStep("Analizando %s...", file.Name)
	resp, err := c.Scan(ctx, file, opts)
	if err != nil {
		var apiErr *client.APIError
		if client.IsValidation(err) && errors.As(err, &apiErr) {
			return errors.New(apiErr.Message)
		}
		return err
	}

	if f.asJSON {
		if err := writeIndented(w, resp.Data); err != nil {
			return err
		}
	} else {
		printResult(w, resp.Data)
	}

	if f.save {
		preview, err := upload.Thumbnail(file)
		if err != nil {
			printWarning("no preview saved: %v", err)
		}
		if _, err := c.SaveResult(ctx, resp.Data, preview); err != nil {
			return fmt.Errorf("saving result: %w", err)
		}
		printSuccess("Resultado guardado (%s)", resp.Data.ScanID)
	}
	return nil
}

func init() {
	scanCmd.Flags().String("user-id", "", "user id sent with the scan")
	scanCmd.Flags().String("metadata", "", "JSON metadata sent with the scan")
	scanCmd.Flags().Bool("save", false, "save the result to history")
	scanCmd.Flags().Bool("json", false, "print the raw result as JSON")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List saved scan results",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		entries, err := c.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		printHistory(os.Stdout, entries)
		return nil
	},
}

func printHistory(w io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No hay resultados guardados.")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %s  %-5s %3d%%  %s\n",
			colorize(colorCyan, e.ScanID),
			e.Date.Local().Format("2006-01-02 15:04"),
			colorize(riskColor(e.RiskLevel), string(e.RiskLevel)),
			e.Confidence,
			e.Diagnosis,
		)
	}
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of results to list")
}

// --- save ---

var saveCmd = &cobra.Command{
	Use:   "save <result.json>",
	Short: "Save an exported or scanned result to history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		var res scan.Result
		if err := json.Unmarshal(data, &res); err != nil {
			return fmt.Errorf("invalid result JSON: %w", err)
		}

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		entry, err := c.SaveResult(cmd.Context(), res, "")
		if err != nil {
			return err
		}
		printSuccess("Resultado guardado (%s)", entry.ScanID)
		return nil
	},
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export <scan-id>",
	Short: "Download a saved result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		return runExport(cmd.Context(), c, args[0], output, os.Stdout)
	},
}

// runExport writes the export to output, or to the server-suggested name
// when output is empty. "-" writes to w.
func runExport(ctx context.Context, c *client.Client, scanID, output string, w io.Writer) error {
	name, data, err := c.Export(ctx, scanID)
	if err != nil {
		return err
	}
	if output == "-" {
		_, err := w.Write(data)
		return err
	}
	if output == "" {
		output = name
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}
	printSuccess("Exportado a %s", output)
	return nil
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "output file (default: server-suggested name, - for stdout)")
}

// --- report ---

var reportCmd = &cobra.Command{
	Use:   "report <scan-id>",
	Short: "Print the plain-text report of a saved result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		text, err := c.Report(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	},
}

// --- documents ---

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List or replace uploaded documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := c.Documents(cmd.Context())
		if err != nil {
			return err
		}
		printDocuments(os.Stdout, resp.Documents, resp.Message)
		return nil
	},
}

var documentsAddCmd = &cobra.Command{
	Use:   "add <file>...",
	Short: "Replace the document list with the given files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files := make([]upload.File, 0, len(args))
		for _, path := range args {
			f, err := readUpload(path)
			if err != nil {
				return err
			}
			files = append(files, f)
		}

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := c.UploadDocuments(cmd.Context(), files)
		if err != nil {
			return err
		}
		printDocuments(os.Stdout, resp.Documents, resp.Message)
		return nil
	},
}

func printDocuments(w io.Writer, docs []documents.Summary, empty string) {
	if len(docs) == 0 {
		fmt.Fprintln(w, empty)
		return
	}
	for _, d := range docs {
		line := fmt.Sprintf("%s  (%s)", d.Name, d.SizeKB)
		if d.Pages > 0 {
			line += fmt.Sprintf("  %d pág.", d.Pages)
		}
		fmt.Fprintln(w, line)
	}
}

func init() {
	documentsCmd.AddCommand(documentsAddCmd)
}

// --- specialists ---

var specialistsCmd = &cobra.Command{
	Use:   "specialists",
	Short: "Print the dermatologist directory URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		u, err := c.Specialists(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(u)
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

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
