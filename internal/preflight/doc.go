// Package preflight provides readiness checks for the paths and binaries
// a vellum host depends on.
//
// These checks run in two contexts:
//   - The serve command calls RunAll at startup and logs any failure.
//     A host that cannot write its log directory or reach its engine
//     binary is better reported up front than mid-session.
//   - The CLI "vellum status" command surfaces CheckSystemDeps so a user
//     can see why sessions refuse to start.
//
// Each check is gated by its config toggle -- socket-mode hosts skip the
// engine binary probe.
package preflight
