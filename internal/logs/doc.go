// Package logs reads the optibatch log file for `optibatch logs`.
//
// Last returns the trailing lines with bounded memory, Since reads forward
// from a byte offset, and Follow polls for appended lines until its context
// ends. A Filter narrows output to one run or item by matching the field
// keys the logging package writes, in both console and JSON formats.
package logs
