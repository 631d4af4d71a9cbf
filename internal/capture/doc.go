// Package capture records live audio from an input device into a bounded chunk
// queue. A Service runs one recording session at a time: Start opens the device
// stream, the driver callback enqueues chunks while the session is recording, and
// Stop closes the stream and returns the concatenated 16 kHz mono samples.
package capture
