package pipeline

import "github.com/skypro1111/greenvoice-service/internal/apperror"

// Status is the outcome of a transcription request
type Status string

const (
	StatusOK           Status = "ok"
	StatusSilent       Status = "silent"
	StatusDecodeFailed Status = "decode_failed"
	StatusModelFailed  Status = "model_failed"
	StatusInvalidInput Status = "invalid_input"
	StatusTimeout      Status = "timeout"
)

// Messages returned as transcription text for non-error outcomes
const (
	MessageTooQuiet   = "Audio too quiet. Please speak louder."
	MessageNoSpeech   = "No speech detected."
	MessageNoRecorded = "No audio recorded"
)

// Result is the outcome of one request. Text is set for ok and silent results;
// Diagnostic is a sanitized client-facing description of a failure.
type Result struct {
	Text       string
	Status     Status
	Diagnostic string
	Err        error
}

// Succeeded reports whether the result should be returned as a transcription
func (r Result) Succeeded() bool {
	return r.Status == StatusOK || r.Status == StatusSilent
}

// HTTPStatus maps the result to a response code
func (r Result) HTTPStatus() int {
	if r.Succeeded() {
		return 200
	}
	return apperror.KindOf(r.Err).HTTPStatus()
}

func failed(status Status, err error) Result {
	return Result{
		Status:     status,
		Diagnostic: apperror.ClientMessage(err),
		Err:        err,
	}
}
