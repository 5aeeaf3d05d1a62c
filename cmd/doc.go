// Package cmd implements the command-line interface of dRPC. It can run an
// RPC server hosting the demo NumService and act as a client for it.
//
// The package is organized into several subpackages:
//
//   - serve: Starts and configures the RPC server
//   - num: Client commands for the NumService (add, minus) and a load generator (perf)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set with an environment variable of the form
// DRPC_<FLAG> (e.g. DRPC_IO_WORKERS=4). Variables are additionally read from
// .env and .env.local in the working directory.
//
// See drpc -help for a list of all commands.
package cmd
