package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "culprit",
	Short: "Find the tool definition that breaks a chat API request",
	Long: `Culprit routes one run of a chat client through a transparent
interception proxy, watches for the API's schema-validation rejection,
and reports which tool definition in the request the error points at.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is culprit.toml, searched upward from the working directory)")
	rootCmd.PersistentFlags().String("client", "", "client command to launch through the proxy")
	rootCmd.PersistentFlags().String("listen", "", "proxy listen address")

	viper.BindPFlag("client", rootCmd.PersistentFlags().Lookup("client"))
	viper.BindPFlag("listen", rootCmd.PersistentFlags().Lookup("listen"))
}
