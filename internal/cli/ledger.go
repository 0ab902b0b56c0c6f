package cli

import (
	"strconv"

	"github.com/dl-alexandre/drivepdf/internal/ledger"
	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/dl-alexandre/drivepdf/internal/utils"
	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the copied-files ledger",
	Long:  "Inspect the append-only ledger of items already copied into the archive folder",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded keys",
	Args:  cobra.NoArgs,
	RunE:  runLedgerList,
}

var ledgerCheckCmd = &cobra.Command{
	Use:   "check <key>",
	Short: "Report whether a key is recorded",
	Long:  "Report whether a file name (or file ID, with ledgerKey=id) has already been copied",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerCheck,
}

func init() {
	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerCheckCmd)
	rootCmd.AddCommand(ledgerCmd)
}

// ledgerListing is the output of ledger list
type ledgerListing struct {
	Path    string   `json:"path"`
	KeyMode string   `json:"keyMode"`
	Count   int      `json:"count"`
	Entries []string `json:"entries"`
}

func (l *ledgerListing) Headers() []string {
	return []string{"#", "Key"}
}

func (l *ledgerListing) Rows() [][]string {
	rows := make([][]string, 0, len(l.Entries))
	for i, entry := range l.Entries {
		rows = append(rows, []string{strconv.Itoa(i + 1), entry})
	}
	return rows
}

func (l *ledgerListing) EmptyMessage() string {
	return "Ledger is empty."
}

var _ types.TableRenderer = (*ledgerListing)(nil)

func runLedgerList(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	l := ledger.New(appFs, cfg.LedgerFile)

	entries, err := l.Entries()
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []string{}
	}

	return newOutput(cmd, "").WriteSuccess("ledger.list", &ledgerListing{
		Path:    l.Path(),
		KeyMode: cfg.LedgerKey,
		Count:   len(entries),
		Entries: entries,
	})
}

func runLedgerCheck(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	key := args[0]
	if !ledger.ValidKey(key) {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"Ledger keys must be non-empty and single-line").Build())
	}

	l := ledger.New(appFs, cfg.LedgerFile)
	set, err := l.Load()
	if err != nil {
		return err
	}

	return newOutput(cmd, "").WriteSuccess("ledger.check", map[string]interface{}{
		"key":      key,
		"keyMode":  cfg.LedgerKey,
		"recorded": set.Has(key),
		"path":     l.Path(),
	})
}
