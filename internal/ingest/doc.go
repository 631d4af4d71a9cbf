// Package ingest turns encoded audio uploads of unknown origin into canonical
// 16 kHz mono PCM. It runs an ordered chain of independent decode strategies
// (direct WAV decode, ffmpeg transcode, Ogg Vorbis decode with resampling) and
// fails only when every strategy has failed.
package ingest
