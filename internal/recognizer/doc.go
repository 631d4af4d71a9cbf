// Package recognizer implements the speech recognition capability used by the
// transcription flows. Backends accept preprocessed 16 kHz mono audio and return
// plain text: Client posts a WAV file as multipart form data to an HTTP endpoint
// with retries and exponential backoff, OpenAI uses the OpenAI-compatible audio
// transcription API. Guard serializes calls into backends that are not safe for
// concurrent use.
package recognizer
