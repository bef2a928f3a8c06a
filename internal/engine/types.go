package engine

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// Result is the outcome of a model-backed stage. When the model could not be
// used, Fallback is set, Err records why, and Value holds the stage's
// deterministic substitute. Stages return a Result instead of an error.
type Result[T any] struct {
	Value    T
	Fallback bool
	Err      error
}

// Ok wraps a value produced from a usable model response.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fallback wraps a substitute value produced because of err.
func Fallback[T any](v T, err error) Result[T] {
	return Result[T]{Value: v, Fallback: true, Err: err}
}
