package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// enginesCmd reports which engines are configured and usable
var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "List configured engines and their availability",
	Long: `Build every enabled engine, run its health check and report whether
it can be used. Hosted engines need their API key in OPENAI_API_KEY,
ANTHROPIC_API_KEY or GOOGLE_API_KEY (or the macOS Keychain).`,
	RunE: runEngines,
}

func init() {
	rootCmd.AddCommand(enginesCmd)
}

func runEngines(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := initLogger(cfg, "")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	c, err := newRecognition(commandContext(cmd), cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	statuses := c.registry.Status()
	if len(statuses) == 0 {
		fmt.Println("No engines configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ENGINE\tKIND\tAVAILABLE\tERROR")
	for _, s := range statuses {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", s.Name, s.Kind, s.Available, s.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nPrinted pages:     %v\n", cfg.Selector.Printed)
	fmt.Printf("Handwritten pages: %v\n", cfg.Selector.Handwritten)
	fmt.Printf("Fusion policy:     %s\n", cfg.FusionPolicy)
	return nil
}
