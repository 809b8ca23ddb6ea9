package cmd

import (
	"fmt"
	"os/exec"
	"runtime"
	"runtime/debug"

	"github.com/disgoorg/disgo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version information, set during build
	Version   = "dev"
	GitCommit = ""
)

var checkTools bool

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the entrybeat version together with the Discord library and Go runtime it was built with.

With --tools, also report where the ffmpeg and yt-dlp executables used for playback are found.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("entrybeat %s (%s)\n", Version, commit())
		fmt.Printf("disgo %s, %s %s/%s\n", disgo.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		if !checkTools {
			return
		}
		for _, tool := range []string{viper.GetString("audio.ffmpeg_exec"), "yt-dlp"} {
			path, err := exec.LookPath(tool)
			if err != nil {
				fmt.Printf("%s: not found\n", tool)
				continue
			}
			fmt.Printf("%s: %s\n", tool, path)
		}
	},
}

// commit falls back to the VCS stamp of the build when no commit was set with -ldflags
func commit() string {
	if GitCommit != "" {
		return GitCommit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown commit"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return "unknown commit"
}

func init() {
	versionCmd.Flags().BoolVar(&checkTools, "tools", false, "look up the ffmpeg and yt-dlp executables")
	rootCmd.AddCommand(versionCmd)
}
