package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/dl-alexandre/drivepdf/internal/ledger"
	testhelpers "github.com/dl-alexandre/drivepdf/internal/testing"
	"github.com/dl-alexandre/drivepdf/internal/testing/mocks"
	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/dl-alexandre/drivepdf/internal/utils"
	"github.com/spf13/afero"
)

const ledgerPath = "/state/copied.txt"

func setup(t *testing.T, sourceNames ...string) (*mocks.FakeDrive, afero.Fs, *ledger.Ledger) {
	t.Helper()
	drive := mocks.NewFakeDrive()
	for _, name := range sourceNames {
		drive.Add("src", &types.DriveFile{Name: name, MimeType: utils.MimeTypeDocx}, []byte(name))
	}
	fs := afero.NewMemMapFs()
	return drive, fs, ledger.New(fs, ledgerPath)
}

func ledgerEntries(t *testing.T, l *ledger.Ledger) []string {
	t.Helper()
	entries, err := l.Entries()
	testhelpers.AssertNoError(t, err)
	return entries
}

func TestSync_FirstCopy(t *testing.T) {
	drive, _, l := setup(t, "report.docx")

	summary, err := New(drive, l, nil, Options{}).Sync(context.Background(), testhelpers.TestRequestContext(), "src", "archive")
	testhelpers.AssertNoError(t, err)

	testhelpers.AssertEqual(t, summary.Copied, 1)
	testhelpers.AssertStrings(t, drive.Children("archive"), []string{"report.docx"})
	testhelpers.AssertStrings(t, ledgerEntries(t, l), []string{"report.docx"})
}

func TestSync_Idempotent(t *testing.T) {
	drive, _, l := setup(t, "a.docx", "b.docx")
	s := New(drive, l, nil, Options{})
	ctx := context.Background()

	_, err := s.Sync(ctx, testhelpers.TestRequestContext(), "src", "archive")
	testhelpers.AssertNoError(t, err)
	copiesAfterFirst := drive.CallCount("Copy")

	summary, err := s.Sync(ctx, testhelpers.TestRequestContext(), "src", "archive")
	testhelpers.AssertNoError(t, err)

	testhelpers.AssertEqual(t, drive.CallCount("Copy"), copiesAfterFirst, "second pass copies")
	testhelpers.AssertEqual(t, summary.Skipped, 2)
	testhelpers.AssertEqual(t, summary.Copied, 0)
	testhelpers.AssertStrings(t, drive.Children("archive"), []string{"a.docx", "b.docx"})
	testhelpers.AssertStrings(t, ledgerEntries(t, l), []string{"a.docx", "b.docx"})
}

func TestSync_OrderIndependentSkip(t *testing.T) {
	drive, fs, l := setup(t, "B", "A", "C")
	testhelpers.AssertNoError(t, afero.WriteFile(fs, ledgerPath, []byte("A\nB\n"), 0644))

	summary, err := New(drive, l, nil, Options{}).Sync(context.Background(), testhelpers.TestRequestContext(), "src", "archive")
	testhelpers.AssertNoError(t, err)

	testhelpers.AssertEqual(t, drive.CallCount("Copy"), 1)
	testhelpers.AssertStrings(t, drive.Children("archive"), []string{"C"})
	testhelpers.AssertEqual(t, summary.Skipped, 2)

	set, err := l.Load()
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertStrings(t, set.Sorted(), []string{"A", "B", "C"})
}

func TestSync_NameCollisionGap(t *testing.T) {
	drive, _, l := setup(t, "report.docx")
	drive.Add("src", &types.DriveFile{Name: "report.docx", MimeType: utils.MimeTypeDocx}, []byte("different content"))

	summary, err := New(drive, l, nil, Options{}).Sync(context.Background(), testhelpers.TestRequestContext(), "src", "archive")
	testhelpers.AssertNoError(t, err)

	testhelpers.AssertEqual(t, summary.Copied, 1)
	testhelpers.AssertEqual(t, summary.Skipped, 1)
	testhelpers.AssertStrings(t, drive.Children("archive"), []string{"report.docx"})
}

func TestSync_KeyByIDCopiesBothSameNamed(t *testing.T) {
	drive, _, l := setup(t, "report.docx", "report.docx")

	summary, err := New(drive, l, nil, Options{KeyMode: KeyByID}).Sync(context.Background(), testhelpers.TestRequestContext(), "src", "archive")
	testhelpers.AssertNoError(t, err)

	testhelpers.AssertEqual(t, summary.Copied, 2)
	testhelpers.AssertStrings(t, ledgerEntries(t, l), []string{"fake-1", "fake-2"})
}

func TestSync_PartialFailureIsolation(t *testing.T) {
	drive, _, l := setup(t, "X", "Y", "Z")
	drive.CopyFunc = func(fileID, name, parentID string) (*types.DriveFile, error) {
		if name == "Y" {
			return nil, errors.New("backend error")
		}
		return &types.DriveFile{ID: "copy-of-" + fileID, Name: name}, nil
	}

	summary, err := New(drive, l, nil, Options{}).Sync(context.Background(), testhelpers.TestRequestContext(), "src", "archive")
	testhelpers.AssertNoError(t, err)

	testhelpers.AssertEqual(t, summary.Copied, 2)
	testhelpers.AssertEqual(t, summary.Failed, 1)
	testhelpers.AssertStrings(t, ledgerEntries(t, l), []string{"X", "Z"})
	testhelpers.AssertEqual(t, summary.Items[1].Outcome, OutcomeFailed)

	// Y is retried on the next pass
	drive.CopyFunc = nil
	summary, err = New(drive, l, nil, Options{}).Sync(context.Background(), testhelpers.TestRequestContext(), "src", "archive")
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, summary.Copied, 1)
	testhelpers.AssertStrings(t, ledgerEntries(t, l), []string{"X", "Z", "Y"})
}

func TestSync_ListingFailureAborts(t *testing.T) {
	drive, _, l := setup(t)
	drive.ListChildrenFunc = func(string) ([]*types.DriveFile, error) {
		return nil, errors.New("listing unavailable")
	}

	_, err := New(drive, l, nil, Options{}).Sync(context.Background(), testhelpers.TestRequestContext(), "src", "archive")
	testhelpers.AssertError(t, err)
	testhelpers.AssertEqual(t, drive.CallCount("Copy"), 0)
}

func TestSync_LedgerWriteFailureAborts(t *testing.T) {
	drive, _, _ := setup(t, "a.docx", "b.docx")
	readOnly := ledger.New(afero.NewReadOnlyFs(afero.NewMemMapFs()), ledgerPath)

	summary, err := New(drive, readOnly, nil, Options{}).Sync(context.Background(), testhelpers.TestRequestContext(), "src", "archive")
	testhelpers.AssertErrorCode(t, err, utils.ErrCodeLedgerIO)
	testhelpers.AssertEqual(t, drive.CallCount("Copy"), 1, "stops after the first unrecordable copy")
	testhelpers.AssertEqual(t, summary.Copied, 1)
}

func TestSync_DryRunDoesNotMutate(t *testing.T) {
	drive, fs, l := setup(t, "a.docx", "a.docx", "b.docx")

	summary, err := New(drive, l, nil, Options{DryRun: true}).Sync(context.Background(), testhelpers.TestRequestContext(), "src", "archive")
	testhelpers.AssertNoError(t, err)

	testhelpers.AssertEqual(t, drive.CallCount("Copy"), 0)
	testhelpers.AssertEqual(t, summary.Skipped, 1, "same-named duplicate")
	exists, _ := afero.Exists(fs, ledgerPath)
	testhelpers.AssertEqual(t, exists, false)

	var would int
	for _, item := range summary.Items {
		if item.Outcome == OutcomeWouldCopy {
			would++
		}
	}
	testhelpers.AssertEqual(t, would, 2)
}

func TestSync_RejectsMultilineNames(t *testing.T) {
	drive, _, l := setup(t, "bad\nname.docx", "good.docx")

	summary, err := New(drive, l, nil, Options{}).Sync(context.Background(), testhelpers.TestRequestContext(), "src", "archive")
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, summary.Failed, 1)
	testhelpers.AssertEqual(t, drive.CallCount("Copy"), 1)
	testhelpers.AssertStrings(t, ledgerEntries(t, l), []string{"good.docx"})
}

func TestParseKeyMode(t *testing.T) {
	for in, want := range map[string]KeyMode{"": KeyByName, "name": KeyByName, "id": KeyByID} {
		got, err := ParseKeyMode(in)
		testhelpers.AssertNoError(t, err)
		testhelpers.AssertEqual(t, got, want)
	}
	_, err := ParseKeyMode("md5")
	testhelpers.AssertError(t, err)
}

func TestSync_SkipsSubFolders(t *testing.T) {
	drive, _, l := setup(t, "a.docx")
	drive.Add("src", &types.DriveFile{Name: "scans", MimeType: utils.MimeTypeFolder}, nil)
	s := New(drive, l, nil, Options{})

	for pass := 1; pass <= 2; pass++ {
		summary, err := s.Sync(context.Background(), testhelpers.TestRequestContext(), "src", "archive")
		testhelpers.AssertNoError(t, err)
		testhelpers.AssertEqual(t, summary.Failed, 0, "pass", pass)
		testhelpers.AssertEqual(t, summary.Items[1].Outcome, OutcomeUnsupported, "pass", pass)
	}

	testhelpers.AssertEqual(t, drive.CallCount("Copy"), 1)
	testhelpers.AssertStrings(t, drive.Children("archive"), []string{"a.docx"})
	testhelpers.AssertStrings(t, ledgerEntries(t, l), []string{"a.docx"})
}
