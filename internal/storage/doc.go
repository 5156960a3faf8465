// Package storage owns the recording index and the files behind it. It is
// the only writer of Recording rows: finished captures are saved here, and
// trim, MP3 conversion, delete and the retention sweep all go through
// Recordings so that an index row never points at a missing file.
package storage
