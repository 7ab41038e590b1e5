// Package constants holds defaults shared by the CLI, the API server and the
// inspection engine.
package constants
