// Package startup handles configuration loading, directory
// validation, and startup logging. Configuration defaults come from
// the environment; command-line flags layer on top.
package startup
