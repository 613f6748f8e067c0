// Package cmd implements the command-line interface of dObj. It provides a
// hierarchical command structure for running a node and interacting with it
// as a worker.
//
// The package is organized into several subpackages:
//
//   - serve: Starts the object manager of a node (serve <socket-path>)
//   - object: Worker commands (put, transfer, perf) over the local socket
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dobj -help for a list of all commands.
package cmd
