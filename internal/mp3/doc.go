// Package mp3 re-encodes captured WAV files as MP3. Samples of any captured
// width are normalized to what the engine accepts (8-bit is widened to 16-bit,
// 16-bit and float pass through) and streamed through an Engine in either the
// planar or the interleaved call convention.
package mp3
