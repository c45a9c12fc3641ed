package http

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates an operation completed successfully.
	StatusSuccess Status = "success"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Response represents the standard API response format.
type Response struct {
	Status Status `json:"status,omitempty"`
	Value  string `json:"value,omitempty"`
	Seq    uint64 `json:"seq,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Item is one key/value pair of a scan response.
type Item struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ScanResponse lists the live keys of a range.
type ScanResponse struct {
	Status Status `json:"status"`
	Items  []Item `json:"items"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewSuccessResponse() Response {
	return Response{Status: StatusSuccess}
}

func NewValueResponse(value string) Response {
	return Response{Status: StatusSuccess, Value: value}
}

func NewSeqResponse(seq uint64) Response {
	return Response{Status: StatusSuccess, Seq: seq}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}
