// Package audio defines the canonical audio representations used across the service
// (encoded blobs, decoded 16 kHz mono PCM, processed PCM, capture chunks) together with
// WAV encoding, channel mixdown and resampling helpers.
package audio
