// Package cli wires the engine into the archbot command surface.
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/project-archbot/archbot/pkg/bugzilla"
	"github.com/project-archbot/archbot/pkg/repo"
	"github.com/project-archbot/archbot/pkg/types"
)

var rootCmd = &cobra.Command{
	Use:   "archbot",
	Short: "Automation for Gentoo keywording and stabilization bugs",
	Long: `archbot processes keywording and stabilization requests on the Gentoo
bug tracker: it resolves the package lists, sanity-checks the requested
keywords against the ebuild repository and keeps the tracker state in
sync. It can also apply, commit and resolve finished requests locally.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("api-key", "", "Bugzilla API key (default: ~/.bugz_token)")
	pf.String("endpoint", bugzilla.DefaultEndpoint, "Bugzilla REST endpoint")
	pf.String("repo", ".", "path to the ebuild repository checkout")
	pf.Bool("quiet", false, "only log warnings and errors")
	pf.String("log-file", "", "also append logs to this file")
	for _, f := range []string{"api-key", "endpoint", "repo", "quiet", "log-file"} {
		viper.BindPFlag(f, pf.Lookup(f))
	}

	viper.SetEnvPrefix("ARCHBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.SetConfigName("archbot")
	viper.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config"))
	}
	viper.AddConfigPath(".")
}

// Execute runs the command tree; it is the only entry point.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if viper.GetBool("quiet") {
		log.SetLevel(log.WarnLevel)
	}
	if path := viper.GetString("log-file"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		log.AddHook(&fileHook{file: f})
	}
	return nil
}

// apiKey resolves the Bugzilla credential: flag/env/config first, then the
// conventional ~/.bugz_token file.
func apiKey() string {
	if key := viper.GetString("api-key"); key != "" {
		return key
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(home, ".bugz_token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func newClient() bugzilla.Client {
	return bugzilla.NewRESTClient(viper.GetString("endpoint"), apiKey())
}

func openRepo() (repo.Repository, error) {
	return repo.OpenEbuildRepository(viper.GetString("repo"))
}

// parseBugArgs turns command arguments into bug ids.
func parseBugArgs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, a := range args {
		id, err := strconv.Atoi(strings.TrimPrefix(a, "#"))
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid bug number: %s", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// sortedIDs returns the map keys in ascending order; passes always process
// bugs oldest-first.
func sortedIDs(bugs map[int]*types.Bug) []int {
	ids := make([]int, 0, len(bugs))
	for id := range bugs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// fileHook duplicates log entries into a file regardless of the console
// level.
type fileHook struct {
	file *os.File
}

func (h *fileHook) Levels() []log.Level {
	return log.AllLevels
}

func (h *fileHook) Fire(e *log.Entry) error {
	line, err := e.String()
	if err != nil {
		return err
	}
	_, err = h.file.WriteString(line)
	return err
}
