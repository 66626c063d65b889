// Package main hosts the vellum CLI entrypoint and command graph.
//
// Commands stay thin: they parse flags, dial the host's control socket, and
// render the daemon's answers as status lines, tables, or JSON. Behavior
// belongs in the internal packages; this package only decides how results
// look on a terminal.
package main
