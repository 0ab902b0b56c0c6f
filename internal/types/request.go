package types

// RequestType classifies a Drive API call for logging and error context
type RequestType string

const (
	RequestTypeListOrSearch RequestType = "list_or_search"
	RequestTypeGetByID      RequestType = "get_by_id"
	RequestTypeDownload     RequestType = "download"
	RequestTypeMutation     RequestType = "mutation"
	RequestTypeUpload       RequestType = "upload"
)

// RequestContext carries per-request metadata through the API client
type RequestContext struct {
	Profile           string      `json:"profile"`
	DriveID           string      `json:"driveId,omitempty"`
	InvolvedFileIDs   []string    `json:"involvedFileIds"`
	InvolvedParentIDs []string    `json:"involvedParentIds"`
	RequestType       RequestType `json:"requestType"`
	TraceID           string      `json:"traceId"`
}

// Derive returns a copy of the context with a new request type and fresh ID lists.
// The trace ID is kept so every call made during one run shares it.
func (r *RequestContext) Derive(requestType RequestType) *RequestContext {
	return &RequestContext{
		Profile:           r.Profile,
		DriveID:           r.DriveID,
		InvolvedFileIDs:   []string{},
		InvolvedParentIDs: []string{},
		RequestType:       requestType,
		TraceID:           r.TraceID,
	}
}
