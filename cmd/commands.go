package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/wesm/awesome-sync/config"
	"github.com/wesm/awesome-sync/internal/edits"
	"github.com/wesm/awesome-sync/internal/hierarchy"
	"github.com/wesm/awesome-sync/internal/linkcheck"
	"github.com/wesm/awesome-sync/internal/lint"
	"github.com/wesm/awesome-sync/internal/logging"
	"github.com/wesm/awesome-sync/internal/markdown"
	"github.com/wesm/awesome-sync/internal/sync"
)

var (
	configureToken string

	dryRun       bool
	branch       string
	commitMsg    string
	outputPath   string
	requireValid bool
	actorName    string

	historyLimit int

	requireContributing bool
	reportOnly          bool

	linksFile string

	editFields []string
	editReason string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default configuration file if it doesn't exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.CreateDefaultConfig(configPath); err != nil {
			return fmt.Errorf("failed to create default configuration: %w", err)
		}
		fmt.Printf("Created default configuration at %s\n", configPath)
		return nil
	},
}

var configureCmd = &cobra.Command{
	Use:   "configure [owner/name]",
	Short: "Check a repository is reachable and store it as the sync target",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		repoURL, err := a.repository(args)
		if err != nil {
			return err
		}
		repo, err := a.syncer.ConfigureRepository(cmd.Context(), repoURL, configureToken)
		if err != nil {
			return err
		}

		if a.cfg.Repository != repo.FullName {
			a.cfg.Repository = repo.FullName
			if err := config.SaveConfig(a.cfg, configPath); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}
			log.Info().Str("repository", repo.FullName).Msg("set as configured repository")
		}
		return printJSON(repo)
	},
}

var importCmd = &cobra.Command{
	Use:   "import [owner/name]",
	Short: "Import the repository's awesome list into the catalog",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		repoURL, err := a.repository(args)
		if err != nil {
			return err
		}
		result, err := a.syncer.ImportFromGitHub(cmd.Context(), repoURL, a.importOptions())
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [owner/name]",
	Short: "Render the approved catalog and commit it to the repository",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		repoURL, err := a.repository(args)
		if err != nil {
			return err
		}
		opts, err := a.exportOptions(repoURL)
		if err != nil {
			return err
		}

		result, err := a.syncer.ExportToGitHub(cmd.Context(), repoURL, opts)
		if result != nil && outputPath != "" {
			if werr := os.WriteFile(outputPath, []byte(result.Markdown), 0644); werr != nil {
				return fmt.Errorf("failed to write %s: %w", outputPath, werr)
			}
		}
		if err != nil {
			if result != nil && result.Lint != nil && !result.Lint.Valid {
				fmt.Fprint(os.Stderr, lint.FormatReport(result.Lint))
			}
			return err
		}

		result.Markdown = ""
		return printJSON(result)
	},
}

var enqueueCmd = &cobra.Command{
	Use:       "enqueue import|export [owner/name]",
	Short:     "Queue an import or export for process-queue",
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"import", "export"},
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		repoURL, err := a.repository(args[1:])
		if err != nil {
			return err
		}

		switch args[0] {
		case "import":
			item, err := a.syncer.EnqueueImport(repoURL, a.importOptions())
			if err != nil {
				return err
			}
			return printJSON(item)
		case "export":
			opts, err := a.exportOptions(repoURL)
			if err != nil {
				return err
			}
			item, err := a.syncer.EnqueueExport(repoURL, opts)
			if err != nil {
				return err
			}
			return printJSON(item)
		default:
			return fmt.Errorf("unknown direction %q, expected import or export", args[0])
		}
	},
}

var processQueueCmd = &cobra.Command{
	Use:   "process-queue",
	Short: "Run every pending queue item, one at a time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.syncer.ProcessQueue(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent sync history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.syncer.History(historyLimit)
		if err != nil {
			return err
		}
		return printJSON(entries)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync queue counts and the last sync",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.syncer.Status()
		if err != nil {
			return err
		}
		return printJSON(status)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <file|->",
	Short: "Lint an awesome-list document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		quietLogger()
		content, err := readInput(args[0])
		if err != nil {
			return err
		}

		result := lint.ValidateWithOptions(content, lint.Options{
			RequireContributing: requireContributing,
			RequireLicense:      true,
		})
		fmt.Print(lint.FormatReport(result))

		if !result.Valid && !reportOnly {
			return fmt.Errorf("%s has %d lint errors", args[0], len(result.Errors))
		}
		return nil
	},
}

var checkLinksCmd = &cobra.Command{
	Use:   "check-links",
	Short: "Check the links of approved resources, or of a markdown file with --file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var items []linkcheck.Item
		opts := linkcheck.DefaultOptions()

		if linksFile != "" {
			quietLogger()
			content, err := readInput(linksFile)
			if err != nil {
				return err
			}
			for _, rec := range markdown.Parse(content).Records {
				items = append(items, linkcheck.Item{URL: rec.Resource.URL, Title: rec.Resource.Title})
			}
			if cfg, err := config.LoadConfig(configPath); err == nil {
				opts = cfg.LinkCheckOptions()
			}
		} else {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			resources, err := a.db.ListApprovedResources()
			if err != nil {
				return err
			}
			for _, r := range resources {
				items = append(items, linkcheck.Item{URL: r.URL, Title: r.Title, ID: r.ID})
			}
			opts = a.cfg.LinkCheckOptions()
		}

		checker, err := linkcheck.New(opts)
		if err != nil {
			return err
		}
		report := checker.Check(cmd.Context(), items)
		fmt.Print(linkcheck.FormatReport(report))

		if report.BrokenLinks+report.Errors > 0 && !reportOnly {
			return fmt.Errorf("%d broken links, %d errors", report.BrokenLinks, report.Errors)
		}
		return nil
	},
}

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List resources whose category path is missing from the category tree",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		orphans, err := hierarchy.Orphans(a.db)
		if err != nil {
			return err
		}
		if len(orphans) == 0 {
			fmt.Println("No orphaned resources")
			return nil
		}
		for _, r := range orphans {
			fmt.Printf("%s\t%s\t%s\n", r.ID, strings.Join(r.CategoryPath(), " > "), r.URL)
		}
		return nil
	},
}

var importTaxonomyCmd = &cobra.Command{
	Use:   "import-taxonomy <file.json|->",
	Short: "Create category tree nodes from an external JSON taxonomy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		content, err := readInput(args[0])
		if err != nil {
			return err
		}
		nodes, err := hierarchy.ParseTaxonomyJSON([]byte(content))
		if err != nil {
			return err
		}

		taxonomy, nodeErrs := hierarchy.ClassifyTaxonomy(nodes)
		for _, ne := range nodeErrs {
			log.Warn().Str("node", ne.NodeID).Msg(ne.Message)
		}

		resolver := hierarchy.New(a.db)
		if dryRun {
			resolver = hierarchy.NewDryRun(a.db)
		}
		result := resolver.ImportTaxonomy(taxonomy)
		log.Info().
			Int("nodes", len(nodes)).
			Int("unclassified", len(nodeErrs)).
			Int("resolved", result.Resolved).
			Int("created", result.Created).
			Bool("dry_run", dryRun).
			Msg("taxonomy import finished")
		return printJSON(result)
	},
}

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Propose and review resource edits",
}

var editProposeCmd = &cobra.Command{
	Use:   "propose <resource-id>",
	Short: "Propose field changes, given as --set field=value (tags comma separated)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		proposed := make(map[string]any, len(editFields))
		for _, kv := range editFields {
			field, value, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("invalid --set %q, expected field=value", kv)
			}
			if field == edits.FieldTags {
				proposed[field] = strings.Split(value, ",")
				continue
			}
			proposed[field] = value
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		edit, err := edits.New(a.db).Propose(args[0], actorName, proposed)
		if err != nil {
			return err
		}
		return printJSON(edit)
	},
}

var editApproveCmd = &cobra.Command{
	Use:   "approve <edit-id>",
	Short: "Apply a pending edit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := edits.New(a.db).Approve(args[0], actorName)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var editRejectCmd = &cobra.Command{
	Use:   "reject <edit-id>",
	Short: "Reject a pending edit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := edits.New(a.db).Reject(args[0], actorName, editReason); err != nil {
			return err
		}
		fmt.Printf("Rejected edit %s\n", args[0])
		return nil
	},
}

func init() {
	configureCmd.Flags().StringVar(&configureToken, "token", "", "GitHub token for this repository (defaults to the configured token)")

	for _, cmd := range []*cobra.Command{importCmd, exportCmd, enqueueCmd} {
		cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan the sync without writing anything")
		cmd.Flags().StringVar(&branch, "branch", "", "Branch to sync (defaults to the configured branch, then the repository default)")
		cmd.Flags().StringVar(&actorName, "actor", "", "Name recorded in history and audit entries")
	}
	for _, cmd := range []*cobra.Command{exportCmd, enqueueCmd} {
		cmd.Flags().StringVar(&commitMsg, "message", "", "Commit message")
		cmd.Flags().BoolVar(&requireValid, "require-valid", false, "Fail the export when the generated list has lint errors")
	}
	exportCmd.Flags().StringVar(&outputPath, "output", "", "Also write the generated markdown to this file")

	importTaxonomyCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan node creation without writing anything")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of entries to show")

	validateCmd.Flags().BoolVar(&requireContributing, "require-contributing", false, "Require a Contributing section")
	validateCmd.Flags().BoolVar(&reportOnly, "report-only", false, "Exit successfully even when errors are found")

	checkLinksCmd.Flags().StringVar(&linksFile, "file", "", "Markdown file to read links from ('-' for stdin)")
	checkLinksCmd.Flags().BoolVar(&reportOnly, "report-only", false, "Exit successfully even when links are broken")

	editProposeCmd.Flags().StringArrayVar(&editFields, "set", nil, "Field change as field=value; repeatable")
	editRejectCmd.Flags().StringVar(&editReason, "reason", "", "Reason shown to the submitter")
	for _, cmd := range []*cobra.Command{editProposeCmd, editApproveCmd, editRejectCmd} {
		cmd.Flags().StringVar(&actorName, "actor", "", "Submitter or reviewer name")
	}
	editCmd.AddCommand(editProposeCmd, editApproveCmd, editRejectCmd)
}

func (a *app) importOptions() sync.ImportOptions {
	return sync.ImportOptions{
		DryRun: dryRun,
		Branch: a.branch(),
		Path:   a.cfg.ReadmePath,
		Actor:  actorName,
	}
}

func (a *app) exportOptions(repoURL string) (sync.ExportOptions, error) {
	owner, name, err := sync.ParseRepositoryURL(repoURL)
	if err != nil {
		return sync.ExportOptions{}, err
	}
	return sync.ExportOptions{
		DryRun:       dryRun,
		Branch:       a.branch(),
		Path:         a.cfg.ReadmePath,
		Message:      commitMsg,
		RequireValid: requireValid || a.cfg.Export.RequireValid,
		Actor:        actorName,
		Format:       a.cfg.FormatOptions(sync.CanonicalRepositoryURL(owner, name)),
	}, nil
}

func (a *app) branch() string {
	if branch != "" {
		return branch
	}
	return a.cfg.Branch
}

// quietLogger initializes logging for commands that run without the database
func quietLogger() {
	level := logLevel
	if level == "" {
		level = "warn"
	}
	logging.InitLogger(level, prettyLogs)
}

func readInput(path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}
