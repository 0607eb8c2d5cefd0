// Package logs reads the per-run JSON logs written under <log_dir>/runs.
//
// Last returns the trailing lines of a file with bounded memory. Follow polls
// for appended lines until its context ends, which powers
// `assetopt history log --follow` while a run is still writing. FormatLine
// renders one JSON record as a compact console line.
package logs
