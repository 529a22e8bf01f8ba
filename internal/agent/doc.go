// Package agent is the host-side half of a segment start: it decodes the
// payload sent by segctl, starts every segment named in it and prints one
// STATUS line per segment for the dispatcher to parse.
//
// The same Agent serves both delivery modes. cmd/segagent's "start"
// subcommand runs it once against a payload given on the command line (the
// SSH and local transports), and its "serve" subcommand mounts NewHandler
// behind an HTTP server (the HTTP transport).
//
// Exit codes follow the dispatcher's contract:
//
//	0  every segment started
//	1  at least one segment failed; STATUS lines say which and why
//	2  the payload was rejected and nothing was attempted
package agent
