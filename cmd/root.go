package cmd

import (
	"fmt"
	"os"

	"github.com/camden-git/faceidbackend/config"
	"github.com/camden-git/faceidbackend/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "faceid",
	Short: "Face enrollment and recognition service",
	Long: `faceid stores face samples for named identities, trains an LBPH model
over every stored sample and recognizes faces in new images.

Run "faceid serve" to start the HTTP API, or use the train, recognize,
enroll and migrate commands directly.`,
	SilenceUsage: true,
}

func Execute() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
}

func initEnv() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadConfig reads the configuration and initializes the logger from it.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	if level := mustGetString(cmd, "log-level"); level != "" {
		cfg.LogLevel = level
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogDevelopment); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
