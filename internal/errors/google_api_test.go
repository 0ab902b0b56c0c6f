package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/dl-alexandre/drivepdf/internal/logging"
	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/dl-alexandre/drivepdf/internal/utils"
	"google.golang.org/api/googleapi"
)

func testReqCtx() *types.RequestContext {
	return &types.RequestContext{
		Profile:     "default",
		RequestType: types.RequestTypeMutation,
		TraceID:     "trace-1",
	}
}

func TestClassifyGoogleAPIError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  string
		wantRetry bool
	}{
		{"not found", &googleapi.Error{Code: 404, Message: "File not found"}, utils.ErrCodeFileNotFound, false},
		{"unauthorized", &googleapi.Error{Code: 401}, utils.ErrCodeAuthExpired, false},
		{"too many requests", &googleapi.Error{Code: 429}, utils.ErrCodeRateLimited, true},
		{"server error", &googleapi.Error{Code: 503}, utils.ErrCodeNetworkError, true},
		{
			"user rate limit",
			&googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}},
			utils.ErrCodeRateLimited, true,
		},
		{
			"storage quota",
			&googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "storageQuotaExceeded"}}},
			utils.ErrCodeQuotaExceeded, false,
		},
		{
			"insufficient scopes",
			&googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "insufficientScopes"}}},
			utils.ErrCodeScopeInsufficient, false,
		},
		{"plain network", fmt.Errorf("dial tcp: connection refused"), utils.ErrCodeNetworkError, true},
		{"cancelled", context.Canceled, utils.ErrCodeCancelled, false},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), utils.ErrCodeTimeout, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyGoogleAPIError("drive", tt.err, testReqCtx(), logging.NewNoOpLogger())

			var appErr *utils.AppError
			if !stderrors.As(err, &appErr) {
				t.Fatalf("expected *utils.AppError, got %T", err)
			}
			if appErr.CLIError.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", appErr.CLIError.Code, tt.wantCode)
			}
			if appErr.CLIError.Retryable != tt.wantRetry {
				t.Errorf("retryable = %v, want %v", appErr.CLIError.Retryable, tt.wantRetry)
			}
			if appErr.CLIError.Context["traceId"] != "trace-1" {
				t.Errorf("traceId context missing: %v", appErr.CLIError.Context)
			}
		})
	}
}

func TestClassifyGoogleAPIError_KeepsCause(t *testing.T) {
	orig := &googleapi.Error{Code: 404}
	err := ClassifyGoogleAPIError("drive", orig, testReqCtx(), nil)

	var apiErr *googleapi.Error
	if !stderrors.As(err, &apiErr) {
		t.Fatal("expected googleapi.Error to stay reachable")
	}
	if apiErr.Code != 404 {
		t.Errorf("code = %d, want 404", apiErr.Code)
	}
}

func TestClassifyGoogleAPIError_DriveReason(t *testing.T) {
	err := ClassifyGoogleAPIError("drive",
		&googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "domainPolicy"}}},
		testReqCtx(), nil)

	cliErr := utils.ToCLIError(err)
	if cliErr.Code != utils.ErrCodePolicyViolation {
		t.Errorf("code = %s, want %s", cliErr.Code, utils.ErrCodePolicyViolation)
	}
	if cliErr.DriveReason != "domainPolicy" {
		t.Errorf("driveReason = %q", cliErr.DriveReason)
	}
}
