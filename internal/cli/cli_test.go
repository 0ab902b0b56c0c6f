package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dl-alexandre/drivepdf/internal/config"
	"github.com/dl-alexandre/drivepdf/internal/history"
	drivesync "github.com/dl-alexandre/drivepdf/internal/sync"
	testhelpers "github.com/dl-alexandre/drivepdf/internal/testing"
	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/dl-alexandre/drivepdf/internal/utils"
	"github.com/spf13/cobra"
)

// execute runs the root command against an isolated config directory and
// decodes the JSON envelope it printed
func execute(t *testing.T, args ...string) (int, types.CLIOutput) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()

	code := Execute()

	var env types.CLIOutput
	if err := json.Unmarshal(out.Bytes(), &env); err != nil {
		t.Fatalf("output is not a JSON envelope: %v\nstdout: %s\nstderr: %s", err, out.String(), errOut.String())
	}
	return code, env
}

func isolatedConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DRIVEPDF_CONFIG_DIR", dir)
	return dir
}

func dataMap(t *testing.T, env types.CLIOutput) map[string]interface{} {
	t.Helper()
	m, ok := env.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("expected object data, got %T", env.Data)
	}
	return m
}

func TestCommandName(t *testing.T) {
	login, _, err := rootCmd.Find([]string{"auth", "login"})
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, commandName(login), "auth.login")
	testhelpers.AssertEqual(t, commandName(rootCmd), "drivepdf")
	testhelpers.AssertEqual(t, commandName(nil), "drivepdf")
}

func TestReportError_MapsExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantExit int
	}{
		{
			name:     "run locked",
			err:      utils.NewAppError(utils.NewCLIError(utils.ErrCodeRunLocked, "busy").Build()),
			wantCode: utils.ErrCodeRunLocked,
			wantExit: utils.ExitRunLocked,
		},
		{
			name:     "ledger io",
			err:      utils.WrapAppError(utils.NewCLIError(utils.ErrCodeLedgerIO, "disk").Build(), errors.New("EIO")),
			wantCode: utils.ErrCodeLedgerIO,
			wantExit: utils.ExitLedgerIO,
		},
		{
			name:     "auth expired",
			err:      utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthExpired, "expired").Build()),
			wantCode: utils.ErrCodeAuthExpired,
			wantExit: utils.ExitAuthExpired,
		},
		{
			name:     "plain error is a usage error",
			err:      errors.New(`unknown flag: --nope`),
			wantCode: utils.ErrCodeInvalidArgument,
			wantExit: utils.ExitInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			cmd := &cobra.Command{Use: "run"}
			cmd.SetOut(&out)
			cmd.SetErr(&bytes.Buffer{})

			testhelpers.AssertEqual(t, reportError(cmd, tt.err), tt.wantExit)

			var env types.CLIOutput
			testhelpers.AssertNoError(t, json.Unmarshal(out.Bytes(), &env))
			testhelpers.AssertEqual(t, len(env.Errors), 1)
			testhelpers.AssertEqual(t, env.Errors[0].Code, tt.wantCode)
			testhelpers.AssertEqual(t, env.SchemaVersion, utils.SchemaVersion)
		})
	}
}

func TestPipelineConfig(t *testing.T) {
	cfg := config.DefaultConfig("/state")
	cfg.SourceFolderID = "src"
	cfg.DestinationFolderID = "dst"
	cfg.LedgerKey = config.LedgerKeyID
	cfg.ExcludePatterns = []string{"*.tmp"}

	pc := pipelineConfig(cfg, true)
	testhelpers.AssertEqual(t, pc.SourceFolderID, "src")
	testhelpers.AssertEqual(t, pc.DestinationFolderID, "dst")
	testhelpers.AssertEqual(t, pc.LockPath, filepath.Join("/state", LockFileName))
	testhelpers.AssertEqual(t, pc.LockStaleAfter, 6*time.Hour)
	testhelpers.AssertEqual(t, pc.KeyMode, drivesync.KeyByID)
	testhelpers.AssertEqual(t, pc.PageSize, 100)
	testhelpers.AssertEqual(t, pc.Readiness.StableChecks, 2)
	testhelpers.AssertEqual(t, pc.Readiness.PollInterval, 2*time.Second)
	testhelpers.AssertEqual(t, pc.Readiness.Timeout, time.Minute)
	testhelpers.AssertStrings(t, pc.UploadExtensions, []string{".pdf"})
	testhelpers.AssertStrings(t, pc.ExcludePatterns, []string{"*.tmp"})
	testhelpers.AssertEqual(t, pc.DryRun, true)
}

func TestConverterOptions(t *testing.T) {
	cfg := config.DefaultConfig("/state")
	cfg.ConverterPath = "/opt/libreoffice/program/soffice"
	cfg.ConverterTimeoutSec = 45

	opts := converterOptions(cfg)
	testhelpers.AssertEqual(t, opts.Binary, "/opt/libreoffice/program/soffice")
	testhelpers.AssertEqual(t, opts.Timeout, 45*time.Second)
	testhelpers.AssertEqual(t, opts.Validate, true)
	if opts.Fs != appFs {
		t.Error("expected the converter to share the application filesystem")
	}

	cfg.ConverterTimeoutSec = 0
	testhelpers.AssertEqual(t, converterOptions(cfg).Timeout, time.Duration(0))
}

func TestUploadProgress(t *testing.T) {
	var buf bytes.Buffer
	p := newUploadProgress(&buf)

	// increments before Start are ignored
	p.Increment("early.pdf", true)
	p.Finish()

	p.Start(2)
	p.Increment("a.pdf", true)
	p.Increment("b.pdf", false)
	p.Finish()

	testhelpers.AssertEqual(t, p.failed, 1)
	testhelpers.AssertContains(t, buf.String(), "(1 failed)")
}

func TestRunAndItemTables(t *testing.T) {
	started := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	runs := runList{{ID: "run-1", StartedAt: started, Status: history.StatusPartial, Copied: 2, Converted: 1, Uploaded: 3, Failed: 1}}
	testhelpers.AssertEqual(t, len(runs.Headers()), len(runs.Rows()[0]))
	testhelpers.AssertStrings(t, runs.Rows()[0], []string{
		"run-1", config.FormatTime(started), "partial", "2", "1", "3", "1", "false",
	})
	testhelpers.AssertEqual(t, len(runList{}.Rows()), 0)

	items := itemList{{Stage: history.StageUpload, Name: "x.pdf", Outcome: "uploaded"}}
	testhelpers.AssertStrings(t, items.Rows()[0], []string{"upload", "x.pdf", "uploaded", ""})
}

func TestLedgerCommands(t *testing.T) {
	dir := isolatedConfigDir(t)
	testhelpers.AssertNoError(t, os.WriteFile(filepath.Join(dir, "copied_files.txt"), []byte("a.docx\nb.docx\n"), 0644))

	code, env := execute(t, "ledger", "list")
	testhelpers.AssertEqual(t, code, utils.ExitSuccess)
	testhelpers.AssertEqual(t, env.Command, "ledger.list")
	data := dataMap(t, env)
	testhelpers.AssertEqual(t, data["count"], float64(2))
	testhelpers.AssertEqual(t, data["keyMode"], "name")

	code, env = execute(t, "ledger", "check", "b.docx")
	testhelpers.AssertEqual(t, code, utils.ExitSuccess)
	testhelpers.AssertEqual(t, dataMap(t, env)["recorded"], true)

	code, env = execute(t, "ledger", "check", "c.docx")
	testhelpers.AssertEqual(t, code, utils.ExitSuccess)
	testhelpers.AssertEqual(t, dataMap(t, env)["recorded"], false)
}

func TestUnknownFlagIsInvalidArgument(t *testing.T) {
	isolatedConfigDir(t)

	code, env := execute(t, "ledger", "list", "--nope")
	testhelpers.AssertEqual(t, code, utils.ExitInvalidArgument)
	testhelpers.AssertEqual(t, env.Command, "ledger.list")
	testhelpers.AssertEqual(t, env.Errors[0].Code, utils.ErrCodeInvalidArgument)
}

func TestConfigInitAndShow(t *testing.T) {
	dir := isolatedConfigDir(t)
	t.Cleanup(func() {
		configInitSource, configInitDest, configInitForce = "", "", false
	})

	code, env := execute(t, "config", "init", "--source", "src-1", "--destination", "dst-1")
	testhelpers.AssertEqual(t, code, utils.ExitSuccess)
	testhelpers.AssertEqual(t, dataMap(t, env)["path"], filepath.Join(dir, config.ConfigFileName))

	code, env = execute(t, "config", "show")
	testhelpers.AssertEqual(t, code, utils.ExitSuccess)
	data := dataMap(t, env)
	testhelpers.AssertEqual(t, data["sourceFolderId"], "src-1")
	testhelpers.AssertEqual(t, data["destinationFolderId"], "dst-1")
	testhelpers.AssertEqual(t, data["stateDir"], dir)

	code, env = execute(t, "config", "init")
	testhelpers.AssertEqual(t, code, utils.ExitInvalidArgument)
	testhelpers.AssertContains(t, env.Errors[0].Message, "already exists")
}

func TestRunRequiresFolders(t *testing.T) {
	isolatedConfigDir(t)

	code, env := execute(t, "run")
	testhelpers.AssertEqual(t, code, utils.ExitInvalidConfig)
	testhelpers.AssertEqual(t, env.Errors[0].Code, utils.ErrCodeInvalidConfig)
	testhelpers.AssertContains(t, env.Errors[0].Message, "sourceFolderId")
}

func TestSyncRequiresArchive(t *testing.T) {
	isolatedConfigDir(t)
	t.Setenv("DRIVEPDF_SOURCE_FOLDER_ID", "src")

	code, env := execute(t, "sync")
	testhelpers.AssertEqual(t, code, utils.ExitInvalidArgument)
	testhelpers.AssertContains(t, env.Errors[0].Message, "archive")
}

func TestInvalidConfigFile(t *testing.T) {
	dir := isolatedConfigDir(t)
	testhelpers.AssertNoError(t, os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte("{not json"), 0600))

	code, env := execute(t, "ledger", "list")
	testhelpers.AssertEqual(t, code, utils.ExitInvalidConfig)
	testhelpers.AssertEqual(t, env.Errors[0].Code, utils.ErrCodeInvalidConfig)
}

func TestAuthStatusWithoutToken(t *testing.T) {
	isolatedConfigDir(t)

	code, env := execute(t, "auth", "status")
	testhelpers.AssertEqual(t, code, utils.ExitSuccess)
	data := dataMap(t, env)
	testhelpers.AssertEqual(t, data["authenticated"], false)
	testhelpers.AssertEqual(t, data["storageBackend"], "token-file")
	if _, ok := data["error"]; ok {
		t.Errorf("a missing token should not be reported as an error: %v", data["error"])
	}
}

func TestHistoryCommand(t *testing.T) {
	dir := isolatedConfigDir(t)
	t.Cleanup(func() { historyLimit = 20 })

	db, err := history.Open(filepath.Join(dir, HistoryFileName))
	testhelpers.AssertNoError(t, err)
	started := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	testhelpers.AssertNoError(t, db.StartRun(testhelpers.TestContext(), history.Run{ID: "run-1", Profile: "default", StartedAt: started}))
	testhelpers.AssertNoError(t, db.RecordItem(testhelpers.TestContext(), history.Item{
		RunID: "run-1", Stage: history.StageUpload, Name: "x.pdf", Outcome: "uploaded", RecordedAt: started,
	}))
	testhelpers.AssertNoError(t, db.Close())

	code, env := execute(t, "history")
	testhelpers.AssertEqual(t, code, utils.ExitSuccess)
	runs, ok := env.Data.([]interface{})
	if !ok || len(runs) != 1 {
		t.Fatalf("expected one run, got %#v", env.Data)
	}
	testhelpers.AssertEqual(t, runs[0].(map[string]interface{})["id"], "run-1")

	code, env = execute(t, "history", "show", "run-1")
	testhelpers.AssertEqual(t, code, utils.ExitSuccess)
	items, ok := env.Data.([]interface{})
	if !ok || len(items) != 1 {
		t.Fatalf("expected one item, got %#v", env.Data)
	}

	code, _ = execute(t, "history", "--limit", "-1")
	testhelpers.AssertEqual(t, code, utils.ExitInvalidArgument)
}

func TestVersionSkipsConfig(t *testing.T) {
	dir := isolatedConfigDir(t)
	testhelpers.AssertNoError(t, os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte("{not json"), 0600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	}()

	testhelpers.AssertEqual(t, Execute(), utils.ExitSuccess)
	if !strings.HasPrefix(out.String(), "drivepdf ") {
		t.Errorf("unexpected version output %q", out.String())
	}
}
