// Package pipeline orchestrates one transcription request end to end: payload
// validation, temp-file staging, decoding, preprocessing and recognition. Every
// outcome is reported as a Result with a status; failures never escape as panics
// or leak temp files.
package pipeline
