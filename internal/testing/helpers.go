package testing

import (
	"context"
	"strings"
	"testing"

	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/dl-alexandre/drivepdf/internal/utils"
	"google.golang.org/api/drive/v3"
)

// TestContext creates a standard test context
func TestContext() context.Context {
	return context.Background()
}

// TestRequestContext creates a standard request context for testing
func TestRequestContext() *types.RequestContext {
	return &types.RequestContext{
		Profile:           "test-profile",
		InvolvedFileIDs:   []string{},
		InvolvedParentIDs: []string{},
		RequestType:       types.RequestTypeListOrSearch,
		TraceID:           "test-trace-id",
	}
}

// TestFile creates a Drive API file for seeding fake servers
func TestFile(id, name, mimeType string, parents ...string) *drive.File {
	return &drive.File{
		Id:       id,
		Name:     name,
		MimeType: mimeType,
		Parents:  parents,
		Size:     1024,
	}
}

// TestFolder creates a Drive API folder for seeding fake servers
func TestFolder(id, name string, parents ...string) *drive.File {
	return &drive.File{
		Id:       id,
		Name:     name,
		MimeType: utils.MimeTypeFolder,
		Parents:  parents,
	}
}

// TestDriveFile creates an internal DriveFile owned by owner
func TestDriveFile(id, name, owner string) *types.DriveFile {
	f := &types.DriveFile{
		ID:       id,
		Name:     name,
		MimeType: utils.MimeTypeDocx,
	}
	if owner != "" {
		f.Owners = []string{owner}
	}
	return f
}

// AssertNoError is a helper to fail the test if error is not nil
func AssertNoError(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err != nil {
		if len(msgAndArgs) > 0 {
			t.Fatalf("%v: %v", msgAndArgs[0], err)
		} else {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

// AssertError is a helper to fail the test if error is nil
func AssertError(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err == nil {
		if len(msgAndArgs) > 0 {
			t.Fatalf("%v: expected error but got nil", msgAndArgs[0])
		} else {
			t.Fatal("expected error but got nil")
		}
	}
}

// AssertErrorCode fails the test unless err carries the given CLI error code
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s but got nil", code)
	}
	if got := utils.ErrorCode(err); got != code {
		t.Fatalf("error code = %s, want %s (%v)", got, code, err)
	}
}

// AssertEqual is a helper to fail the test if two values are not equal
func AssertEqual(t *testing.T, got, want interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if got != want {
		if len(msgAndArgs) > 0 {
			t.Fatalf("%v: got %v, want %v", msgAndArgs[0], got, want)
		} else {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

// AssertStrings fails the test unless got and want hold the same strings in order
func AssertStrings(t *testing.T, got, want []string, msgAndArgs ...interface{}) {
	t.Helper()
	if strings.Join(got, "\x00") == strings.Join(want, "\x00") && len(got) == len(want) {
		return
	}
	if len(msgAndArgs) > 0 {
		t.Fatalf("%v: got %q, want %q", msgAndArgs[0], got, want)
	}
	t.Fatalf("got %q, want %q", got, want)
}

// AssertContains fails the test unless s contains substr
func AssertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Fatalf("expected %q to contain %q", s, substr)
	}
}

// AssertNotNil is a helper to fail the test if value is nil
func AssertNotNil(t *testing.T, value interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if value == nil {
		if len(msgAndArgs) > 0 {
			t.Fatalf("%v: expected non-nil value", msgAndArgs[0])
		} else {
			t.Fatal("expected non-nil value")
		}
	}
}
