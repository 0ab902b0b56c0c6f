package errors

import (
	"context"
	stderrors "errors"

	"github.com/dl-alexandre/drivepdf/internal/logging"
	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/dl-alexandre/drivepdf/internal/utils"
	"google.golang.org/api/googleapi"
)

// rateLimitReasons are 403 reasons Drive uses for throttling rather than denial
var rateLimitReasons = map[string]bool{
	"sharingRateLimitExceeded": true,
	"userRateLimitExceeded":    true,
	"rateLimitExceeded":        true,
}

// IsRateLimitReason reports whether a googleapi error reason is a throttling signal
func IsRateLimitReason(reason string) bool {
	return rateLimitReasons[reason]
}

// ClassifyGoogleAPIError maps a Google API error onto a tool-owned AppError.
// The original error stays reachable through errors.As.
func ClassifyGoogleAPIError(service string, err error, reqCtx *types.RequestContext, logger logging.Logger) error {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}

	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		code := utils.ErrCodeCancelled
		if stderrors.Is(err, context.DeadlineExceeded) {
			code = utils.ErrCodeTimeout
		}
		return utils.WrapAppError(utils.NewCLIError(code, err.Error()).
			WithContext("traceId", reqCtx.TraceID).
			WithContext("service", service).
			Build(), err)
	}

	var apiErr *googleapi.Error
	if !stderrors.As(err, &apiErr) {
		logger.Error("Non-API error",
			logging.F("error", err.Error()),
			logging.F("traceId", reqCtx.TraceID),
		)
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeNetworkError, err.Error()).
			WithRetryable(true).
			WithContext("traceId", reqCtx.TraceID).
			WithContext("service", service).
			Build(), err)
	}

	var code string
	var retryable bool

	switch apiErr.Code {
	case 400:
		code = utils.ErrCodeInvalidArgument
		for _, e := range apiErr.Errors {
			if e.Reason == "teamDriveFileLimitExceeded" {
				code = utils.ErrCodeQuotaExceeded
			}
		}
	case 401:
		code = utils.ErrCodeAuthExpired
	case 403:
		code = utils.ErrCodePermissionDenied
		for _, e := range apiErr.Errors {
			switch {
			case e.Reason == "storageQuotaExceeded":
				code = utils.ErrCodeQuotaExceeded
			case IsRateLimitReason(e.Reason):
				code = utils.ErrCodeRateLimited
				retryable = true
			case e.Reason == "dailyLimitExceeded":
				code = utils.ErrCodeRateLimited
			case e.Reason == "domainPolicy":
				code = utils.ErrCodePolicyViolation
			case e.Reason == "insufficientPermissions" || e.Reason == "insufficientScopes":
				code = utils.ErrCodeScopeInsufficient
			}
		}
	case 404:
		code = utils.ErrCodeFileNotFound
	case 409:
		code = utils.ErrCodeInvalidArgument
	case 429:
		code = utils.ErrCodeRateLimited
		retryable = true
	case 500, 502, 503, 504:
		code = utils.ErrCodeNetworkError
		retryable = true
	default:
		code = utils.ErrCodeUnknown
		retryable = apiErr.Code >= 500
	}

	logger.Error("API error classified",
		logging.F("httpStatus", apiErr.Code),
		logging.F("errorCode", code),
		logging.F("retryable", retryable),
		logging.F("message", apiErr.Message),
		logging.F("traceId", reqCtx.TraceID),
		logging.F("service", service),
	)

	builder := utils.NewCLIError(code, apiErr.Message).
		WithHTTPStatus(apiErr.Code).
		WithRetryable(retryable).
		WithContext("traceId", reqCtx.TraceID).
		WithContext("requestType", string(reqCtx.RequestType)).
		WithContext("service", service)

	if len(reqCtx.InvolvedFileIDs) > 0 {
		builder.WithContext("fileIds", reqCtx.InvolvedFileIDs)
	}

	if len(apiErr.Errors) > 0 {
		if service == "drive" {
			builder.WithDriveReason(apiErr.Errors[0].Reason)
		}
		switch apiErr.Errors[0].Reason {
		case "storageQuotaExceeded":
			builder.WithContext("suggestedAction", "free up space in Google Drive or upgrade storage")
		case "dailyLimitExceeded":
			builder.WithContext("suggestedAction", "quota will reset in 24 hours")
		case "appNotAuthorizedToFile":
			builder.WithContext("suggestedAction", "file may require access via web interface first")
		case "insufficientFilePermissions":
			builder.WithContext("capability", "write_access_required")
		case "domainPolicy":
			builder.WithContext("suggestedAction", "contact domain administrator")
		}
	}

	switch code {
	case utils.ErrCodeAuthExpired:
		builder.WithContext("suggestedAction", "run 'drivepdf auth login' to re-authenticate")
	case utils.ErrCodeScopeInsufficient:
		builder.WithContext("suggestedAction", "run 'drivepdf auth logout' then 'drivepdf auth login' to grant full Drive access")
	case utils.ErrCodeFileNotFound:
		builder.WithContext("suggestedAction", "verify the folder or file ID is correct and shared with this account")
	case utils.ErrCodeRateLimited:
		builder.WithContext("suggestedAction", "wait before retrying")
	}

	if apiErr.Code >= 500 && apiErr.Code <= 504 {
		builder.WithContext("serverError", true).
			WithContext("suggestedAction", "temporary server error, retry later")
	}

	return utils.WrapAppError(builder.Build(), err)
}
