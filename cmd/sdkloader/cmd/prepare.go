package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/snowmerak/sdkloader.go/lib/sdkloader"
)

var listFiles bool

// prepareCmd represents the prepare command
var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Prepare the isolated runtime and show its state",
	Long: `Locate the adapter archive, copy it to a private temporary file, extract the
native libraries and open the isolated adapter context. Temporary files are removed
when the command exits.`,
	RunE: runPrepare,
}

func init() {
	rootCmd.AddCommand(prepareCmd)
	prepareCmd.Flags().BoolVar(&listFiles, "files", false, "list every extracted native file")
}

type stateView struct {
	Context     string    `json:"context"`
	ArchivePath string    `json:"archive_path"`
	ExtractDir  string    `json:"extract_dir"`
	NativeDir   string    `json:"native_dir"`
	NativeFiles []string  `json:"native_files"`
	CreatedAt   time.Time `json:"created_at"`
}

func runPrepare(cmd *cobra.Command, args []string) error {
	h, _, err := newHolder()
	if err != nil {
		return err
	}

	st, err := h.Get(cmd.Context())
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(stateView{
			Context:     st.Context.Name(),
			ArchivePath: st.ArchivePath,
			ExtractDir:  st.ExtractDir,
			NativeDir:   st.NativeDir,
			NativeFiles: st.NativeFiles,
			CreatedAt:   st.CreatedAt,
		})
	}

	renderState(st, h.Config())
	return nil
}

func renderState(st *sdkloader.State, cfg sdkloader.Config) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Context", st.Context.Name())
	table.Append("Archive copy", st.ArchivePath)
	table.Append("Extraction dir", st.ExtractDir)
	table.Append("Native dir", st.NativeDir)
	table.Append("Native property", cfg.NativePathProperty)
	table.Append("Native files", strconv.Itoa(len(st.NativeFiles)))
	table.Append("Adapter symbol", cfg.AdapterSymbol)
	table.Append("Prepared at", st.CreatedAt.Format(time.RFC3339))
	table.Render()

	if !listFiles || len(st.NativeFiles) == 0 {
		return
	}

	fmt.Println()
	files := tablewriter.NewWriter(os.Stdout)
	files.Header("Native file", "Size")
	for _, path := range st.NativeFiles {
		size := "-"
		if info, err := os.Stat(path); err == nil {
			size = strconv.FormatInt(info.Size(), 10)
		}
		files.Append(path, size)
	}
	files.Render()
}

func printJSON(v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(output))
	return nil
}
