// Package fakes provides in-memory implementations of the ports used by the
// application tests.
//
// The ledger fake simulates just enough of the HILO contract (allowance
// spending, balances, sale lock, queue) for orchestrator and store tests to
// run without a chain.
package fakes
