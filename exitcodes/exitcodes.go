// Package exitcodes defines the exit codes of op-reporter.
package exitcodes

// Exit code constants used by op-reporter
//
// * Success (0): all tests passed and every report operation was delivered
// * TestFailure (1): one or more tests failed
// * RuntimeErr (2): the test command could not run, or reporting timed out
const (
	Success     = 0 // All tests pass
	TestFailure = 1 // Test failures
	RuntimeErr  = 2 // Runtime errors or timeouts
)
