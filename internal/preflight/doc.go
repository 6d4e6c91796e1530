// Package preflight provides readiness checks for the filesystem paths and
// the content server that optibatch depends on.
//
// These checks run in two contexts:
//   - `optibatch run` and the daemon call RunAll before starting work. A
//     failed check is reported up front instead of surfacing as a catalog
//     error halfway through startup.
//   - `optibatch status` renders every result as a table row.
package preflight
