// Package preprocess cleans canonical audio before recognition: a silence gate on
// the input peak, best-effort spectral noise reduction and peak normalization.
package preprocess
