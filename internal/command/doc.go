// Package command derives the rtl_tcp and rtlamr argument lists from the
// loaded configuration.
//
// Derived flags always win over user-supplied custom parameters: the
// tuner's -d, -a and -p, and the decoder's -server (plus -filterid and
// -msgtype when meter filtering is enabled). Argument lists are
// deduplicated by flag group so "-gain 40" is kept intact.
package command
