package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"entrybeat/config"
	"entrybeat/logger"
	"entrybeat/machine"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "entrybeat",
	Short: "A Discord music bot that plays entry songs",
	Long: `Entrybeat is a Discord music bot with a per-server queue.

When a member joins a voice channel, the bot plays their personal entry song over
whatever is playing and then resumes the interrupted track where it left off.
Entry songs are URLs set with /setentrysong or mp3 clips in the uploads directory.`,
	RunE: runServer,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Local flags for the server command
	rootCmd.Flags().String("discord-token", "", "Discord bot token")
	rootCmd.Flags().String("ffmpeg", "ffmpeg", "path to the ffmpeg executable")
	rootCmd.Flags().StringP("uploads-dir", "u", "uploads", "directory of uploaded entry clips")
	rootCmd.Flags().String("store-path", "data/entry-songs.json", "entry song store file")
	rootCmd.Flags().Duration("entry-duration", 7*time.Second, "default entry song play time")
	rootCmd.Flags().String("reconnect", "if-disconnected", "voice reconnect policy on joins (if-disconnected, always)")
	rootCmd.Flags().String("metrics-addr", ":9090", "Prometheus listen address, empty to disable")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().String("log-format", "text", "log format (text, json)")

	// Bind flags to viper
	viper.BindPFlag("discord.token", rootCmd.Flags().Lookup("discord-token"))
	viper.BindPFlag("audio.ffmpeg_exec", rootCmd.Flags().Lookup("ffmpeg"))
	viper.BindPFlag("audio.uploads_dir", rootCmd.Flags().Lookup("uploads-dir"))
	viper.BindPFlag("entrysong.store_path", rootCmd.Flags().Lookup("store-path"))
	viper.BindPFlag("entrysong.default_duration", rootCmd.Flags().Lookup("entry-duration"))
	viper.BindPFlag("entrysong.reconnect", rootCmd.Flags().Lookup("reconnect"))
	viper.BindPFlag("metrics.addr", rootCmd.Flags().Lookup("metrics-addr"))
	viper.BindPFlag("logging.level", rootCmd.Flags().Lookup("log-level"))
	viper.BindPFlag("logging.format", rootCmd.Flags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if verbose {
		viper.Set("logging.level", "debug")
	}
}

// runServer starts the main application
func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// Setup logging
	if err := logger.Setup(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	// Create and initialize the machine
	m, err := machine.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create machine: %w", err)
	}
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize machine: %w", err)
	}

	// Start the machine
	if err := m.Start(); err != nil {
		return fmt.Errorf("failed to start machine: %w", err)
	}

	// Setup graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal or error
	select {
	case sig := <-signalChan:
		fmt.Printf("\nReceived %s, shutting down gracefully...\n", sig)
	case err := <-m.Error():
		fmt.Printf("Error occurred: %v\n", err)
	}

	// Graceful shutdown
	if err := m.Stop(); err != nil {
		return fmt.Errorf("failed to stop machine gracefully: %w", err)
	}

	return nil
}
