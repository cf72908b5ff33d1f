package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fulcrumhq/fulcrum/cmd/dev"
	"github.com/fulcrumhq/fulcrum/cmd/serve"
	"github.com/fulcrumhq/fulcrum/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "fulcrum",
	Short:   "Extensible rpc request processing server",
	Version: version.Full(),
}

func init() {
	vip := viper.GetViper()

	rootCmd.AddCommand(serve.NewCmd(vip))
	rootCmd.AddCommand(dev.NewCmd(vip))

	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
