package root

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/failsafe-dev/failsafe/cmd/failsafe/monitor"
	"github.com/failsafe-dev/failsafe/cmd/failsafe/rollback"
	"github.com/failsafe-dev/failsafe/cmd/failsafe/verify"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "failsafe",
	Short: "Deployment health monitoring and automatic rollback",
	Long: `Failsafe watches a deployed environment's health endpoint and, on
sustained failure, restores the most recent verified backup through a
multi-phase recovery procedure.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.failsafe.yaml)")

	rootCmd.AddCommand(monitor.Cmd)
	rootCmd.AddCommand(rollback.Cmd)
	rootCmd.AddCommand(verify.Cmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("failsafe version %s\n", rootCmd.Version))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".failsafe")
	}

	viper.SetEnvPrefix("FAILSAFE")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()

	// Config file and environment values back any flag the operator did
	// not set.
	bindConfig(monitor.Cmd)
	bindConfig(rollback.Cmd)
}

// bindConfig overlays config file values onto unset flags.
func bindConfig(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.VisitAll(func(f *pflag.Flag) {
		if !f.Changed && viper.IsSet(f.Name) {
			flags.Set(f.Name, viper.GetString(f.Name))
		}
	})
}
