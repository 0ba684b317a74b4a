package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rail44/culprit/internal/trust"
)

var trustForce bool

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Generate the interception certificate authority",
	Long: `Trust generates the local CA that the interception proxy uses to
terminate TLS. This is a one-time step; diagnose runs only verify the CA
exists and point the spawned client at it.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := trust.Generate(cfg.TrustDir, trustForce); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Interception CA written to %s\n", cfg.TrustDir)
		fmt.Printf("  certificate: %s\n", trust.CertPath(cfg.TrustDir))
		fmt.Println("Clients launched by `culprit diagnose` are pointed at it automatically.")
	},
}

func init() {
	trustCmd.Flags().BoolVar(&trustForce, "force", false, "Regenerate even if a CA already exists")
	rootCmd.AddCommand(trustCmd)
}
