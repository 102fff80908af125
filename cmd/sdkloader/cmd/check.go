package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/snowmerak/sdkloader.go/lib/command"
	"github.com/snowmerak/sdkloader.go/lib/isolation"
)

var checkRequest struct {
	fingerprint string
	url         string
	domain      string
	username    string
	password    string
	workspace   string
	projectPath string
	workDir     string
	since       string
}

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Build an adapter command and check the repository connection",
	Long: `Build a TFS adapter command inside the isolated runtime and verify that the
repository is reachable. With --work-dir the latest modification is listed as well,
or every modification after --since.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	flags := checkCmd.Flags()
	flags.StringVar(&checkRequest.fingerprint, "fingerprint", "sdkloader-check", "material fingerprint")
	flags.StringVar(&checkRequest.url, "url", "", "repository URL")
	flags.StringVar(&checkRequest.domain, "domain", "", "authentication domain")
	flags.StringVar(&checkRequest.username, "username", "", "user name")
	flags.StringVar(&checkRequest.password, "password", "", "password (default from SDKLOADER_TFS_PASSWORD)")
	flags.StringVar(&checkRequest.workspace, "workspace", "", "workspace name")
	flags.StringVar(&checkRequest.projectPath, "project-path", "", "project path, e.g. $/project")
	flags.StringVar(&checkRequest.workDir, "work-dir", "", "working directory used to list modifications")
	flags.StringVar(&checkRequest.since, "since", "", "list modifications after this revision")
	checkCmd.MarkFlagRequired("url")
}

func runCheck(cmd *cobra.Command, args []string) error {
	h, logger, err := newHolder()
	if err != nil {
		return err
	}

	password := checkRequest.password
	if password == "" {
		password = os.Getenv("SDKLOADER_TFS_PASSWORD")
	}
	req := command.Request{
		Fingerprint: checkRequest.fingerprint,
		URL:         command.NewURLArgument(checkRequest.url),
		Domain:      checkRequest.domain,
		Username:    checkRequest.username,
		Password:    password,
		Workspace:   checkRequest.workspace,
		ProjectPath: checkRequest.projectPath,
	}

	ctx := cmd.Context()
	scope := isolation.NewScope(isolation.HostTable(logger))
	tfs, err := h.Build(ctx, scope, req)
	if err != nil {
		return err
	}

	if err := tfs.CheckConnection(ctx); err != nil {
		return fmt.Errorf("connection check against %s failed: %w", req.URL.ForDisplay(), err)
	}
	fmt.Printf("Connection to %s OK\n", req.URL.ForDisplay())

	if checkRequest.workDir == "" {
		return nil
	}

	var mods []command.Modification
	if checkRequest.since != "" {
		mods, err = tfs.ModificationsSince(ctx, checkRequest.workDir, checkRequest.since)
	} else {
		mods, err = tfs.LatestModification(ctx, checkRequest.workDir)
	}
	if err != nil {
		return fmt.Errorf("failed to list modifications: %w", err)
	}

	if IsJSONOutput() {
		return printJSON(mods)
	}
	if len(mods) == 0 {
		fmt.Println("No modifications")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Revision", "User", "Time", "Comment", "Files")
	for _, m := range mods {
		table.Append(
			m.Revision,
			m.User,
			m.ModifiedTime.Format(time.RFC3339),
			m.Comment,
			strings.Join(m.Files, "\n"),
		)
	}
	table.Render()
	return nil
}
