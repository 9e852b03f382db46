package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/platinummonkey/oris/internal/models"
	"github.com/platinummonkey/oris/internal/pipeline"
)

// batchCmd groups the batch commands
var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Submit, process and inspect batches of documents",
	Long: `A batch is a set of documents processed together. Submitting a batch
rasterizes its documents and stores their pages; processing runs recognition
on every page that has not been attempted yet, so an interrupted batch resumes
where it stopped.

Examples:
  # Submit two files and process them in the foreground
  oris batch submit --name factures-mars a.pdf b.png --process

  # Let a running worker pick the batch up instead
  oris batch submit --name courrier lettre.pdf

  # Show all batches, or one batch with its documents
  oris batch status
  oris batch status 3f0c...`,
}

var batchSubmitCmd = &cobra.Command{
	Use:   "submit <file>...",
	Short: "Create a batch from files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBatchSubmit,
}

var batchProcessCmd = &cobra.Command{
	Use:   "process <batch-id>",
	Short: "Process a batch in the foreground",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchProcess,
}

var batchStatusCmd = &cobra.Command{
	Use:   "status [batch-id]",
	Short: "Show batch progress",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBatchStatus,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.AddCommand(batchSubmitCmd, batchProcessCmd, batchStatusCmd)

	batchSubmitCmd.Flags().String("name", "", "batch name (default: submission time)")
	batchSubmitCmd.Flags().Bool("process", false, "process the batch right away")
	batchStatusCmd.Flags().String("status", "", "only list batches with this status")
	batchCmd.PersistentFlags().StringSlice("engines", nil, "engines to run on every page (default: chosen per page)")

	_ = viper.BindPFlag("batch.name", batchSubmitCmd.Flags().Lookup("name"))
	_ = viper.BindPFlag("batch.process", batchSubmitCmd.Flags().Lookup("process"))
	_ = viper.BindPFlag("batch.status", batchStatusCmd.Flags().Lookup("status"))
	_ = viper.BindPFlag("batch.engines", batchCmd.PersistentFlags().Lookup("engines"))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runBatchSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := initLogger(cfg, "")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := commandContext(cmd)
	c, err := newPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	proc, err := c.processor(viper.GetStringSlice("batch.engines"), printProgress)
	if err != nil {
		return err
	}

	name := viper.GetString("batch.name")
	if name == "" {
		name = time.Now().Format("2006-01-02 15:04:05")
	}

	b, err := proc.SubmitBatch(ctx, name, args)
	if err != nil {
		return err
	}
	fmt.Printf("Batch %s submitted with %d documents\n", b.ID, b.TotalDocuments)

	if !viper.GetBool("batch.process") {
		return nil
	}

	b, err = proc.ProcessBatch(ctx, b.ID)
	if err != nil {
		return err
	}
	printBatch(b)
	return nil
}

func runBatchProcess(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := initLogger(cfg, "")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := commandContext(cmd)
	c, err := newPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	proc, err := c.processor(viper.GetStringSlice("batch.engines"), printProgress)
	if err != nil {
		return err
	}

	b, err := proc.ProcessBatch(ctx, args[0])
	if err != nil {
		return err
	}
	printBatch(b)
	return nil
}

func runBatchStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := initLogger(cfg, "")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := commandContext(cmd)
	c, err := newStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	if len(args) == 0 {
		batches, err := c.store.ListBatches(ctx, models.BatchStatus(viper.GetString("batch.status")))
		if err != nil {
			return err
		}
		if len(batches) == 0 {
			fmt.Println("No batches")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tDOCUMENTS\tFAILED\tPROGRESS\tCREATED")
		for _, b := range batches {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%.0f%%\t%s\n",
				b.ID, b.Name, b.Status, b.ProcessedDocuments, b.TotalDocuments,
				b.FailedDocuments, pipeline.Progress(b), b.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	}

	b, err := c.store.GetBatch(ctx, args[0])
	if err != nil {
		return err
	}
	printBatch(b)

	docs, err := c.store.ListDocuments(ctx, b.ID)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nDOCUMENT\tFILE\tTYPE\tSTATUS\tPAGES\tERROR")
	for _, d := range docs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			d.ID, d.Filename, d.Type, d.Status, d.ProcessedPages, d.TotalPages, d.Error)
	}
	return w.Flush()
}

func printProgress(b *models.Batch) {
	fmt.Fprintf(os.Stderr, "\r%s: %d/%d documents (%d failed)",
		b.Name, b.ProcessedDocuments, b.TotalDocuments, b.FailedDocuments)
	if b.Status.Terminal() {
		fmt.Fprintln(os.Stderr)
	}
}

func printBatch(b *models.Batch) {
	fmt.Printf("Batch:     %s (%s)\n", b.Name, b.ID)
	fmt.Printf("Status:    %s\n", b.Status)
	fmt.Printf("Documents: %d/%d processed, %d failed (%.0f%%)\n",
		b.ProcessedDocuments, b.TotalDocuments, b.FailedDocuments, pipeline.Progress(b))
	if !b.CompletedAt.IsZero() {
		fmt.Printf("Completed: %s\n", b.CompletedAt.Format(time.RFC3339))
	}
}
