// Command qploaderctl is a thin example caller over the qploader
// library (SPEC_FULL.md §1.1, §6): it maps three flags onto
// qploader.SetupProjectParameters, runs Setup, and prints the resolved
// project tree as JSON. It does not implement the full build-tool CLI
// surface the specification places out of scope.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/qploader/qploader"
)

var (
	flagProjectFile string
	flagProfile     string
	flagBuildRoot   string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qploaderctl",
		Short: "Resolve a project file and print its build graph as JSON",
		RunE:  runSetup,
	}
	cmd.Flags().StringVar(&flagProjectFile, "project-file", "", "path to the root project file (required)")
	cmd.Flags().StringVar(&flagProfile, "profile", "", "profile to resolve")
	cmd.Flags().StringVar(&flagBuildRoot, "build-root", ".", "directory for the persisted build graph")
	cmd.MarkFlagRequired("project-file")
	return cmd
}

func runSetup(cmd *cobra.Command, args []string) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	params := qploader.SetupProjectParameters{
		ProjectFilePath: flagProjectFile,
		TopLevelProfile: flagProfile,
		BuildRoot:       flagBuildRoot,
	}

	loader, err := qploader.New(params, log)
	if err != nil {
		return err
	}
	defer loader.Close()

	project, err := loader.Setup(context.Background())
	if err != nil && project == nil {
		return err
	}
	if err != nil {
		log.Warn("setup completed with errors", "error", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(project)
}
