package cli

import (
	"path/filepath"
	"strconv"

	"github.com/dl-alexandre/drivepdf/internal/config"
	"github.com/dl-alexandre/drivepdf/internal/history"
	"github.com/dl-alexandre/drivepdf/internal/utils"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs",
	Long:  "List recent runs with their status and counts, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the per-item outcomes of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyLimit int

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of runs to show (0 for all)")
	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

// runList renders history runs as a table
type runList []history.Run

func (r runList) Headers() []string {
	return []string{"Run ID", "Started", "Status", "Copied", "Converted", "Uploaded", "Failed", "Dry Run"}
}

func (r runList) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, run := range r {
		rows = append(rows, []string{
			run.ID,
			config.FormatTime(run.StartedAt),
			run.Status,
			strconv.Itoa(run.Copied),
			strconv.Itoa(run.Converted),
			strconv.Itoa(run.Uploaded),
			strconv.Itoa(run.Failed),
			strconv.FormatBool(run.DryRun),
		})
	}
	return rows
}

func (r runList) EmptyMessage() string {
	return "No runs recorded yet."
}

// itemList renders history items as a table
type itemList []history.Item

func (l itemList) Headers() []string {
	return []string{"Stage", "Name", "Outcome", "Message"}
}

func (l itemList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, item := range l {
		rows = append(rows, []string{item.Stage, item.Name, item.Outcome, config.TruncateString(item.Message, 60)})
	}
	return rows
}

func (l itemList) EmptyMessage() string {
	return "No items recorded for this run."
}

func openHistoryForRead(cfg *config.Config) (*history.DB, error) {
	path := filepath.Join(cfg.StateDir, HistoryFileName)
	db, err := history.Open(path)
	if err != nil {
		return nil, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeLedgerIO,
			"Cannot open run history").WithContext("path", path).Build(), err)
	}
	return db, nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	if historyLimit < 0 {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"--limit must not be negative").Build())
	}

	db, err := openHistoryForRead(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.ListRuns(cmd.Context(), historyLimit)
	if err != nil {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeLedgerIO, err.Error()).Build(), err)
	}
	if runs == nil {
		runs = []history.Run{}
	}
	return newOutput(cmd, "").WriteSuccess("history", runList(runs))
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	db, err := openHistoryForRead(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	items, err := db.ListItems(cmd.Context(), args[0])
	if err != nil {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeLedgerIO, err.Error()).Build(), err)
	}
	if items == nil {
		items = []history.Item{}
	}
	return newOutput(cmd, "").WriteSuccess("history.show", itemList(items))
}
