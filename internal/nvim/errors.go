package nvim

import "fmt"

// APIError is the decoded error position of an engine response, normally a
// [type, message] pair.
type APIError struct {
	Code    int64
	Message string
	Raw     any
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("nvim: %s", e.Message)
	}
	return fmt.Sprintf("nvim: engine error: %v", e.Raw)
}

// DecodeError shapes the error position of a response into an APIError.
// A nil payload yields nil.
func DecodeError(v any) error {
	if v == nil {
		return nil
	}
	apiErr := &APIError{Raw: v}
	if arr, ok := v.([]any); ok && len(arr) == 2 {
		if code, ok := asInt(arr[0]); ok {
			apiErr.Code = code
		}
		if msg, ok := arr[1].(string); ok {
			apiErr.Message = msg
		}
	}
	return apiErr
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
