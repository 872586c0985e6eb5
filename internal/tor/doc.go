// Package tor manages the Tor backends a crawl routes through and the SOCKS5
// clients that use them.
//
// A Supervisor launches a fleet of Tor daemons through tornago, one per
// (SOCKS port, control port) pair, each with its own persistent data
// directory. Every Backend follows an explicit lifecycle:
//
//	Launching -> Ready -> Terminating -> Dead
//	Launching -> Dead (launch failed)
//
// A Client is bound to exactly one SOCKS address. Transfer slots each own a
// Client, which keeps every request of a slot on the slot's backend.
//
// Design decision: Daemon management uses tornago instead of exec-ing tor
// directly because tornago already handles binary lookup, cookie
// authentication, port readiness and the control protocol. The data path
// stays on x/net/proxy so transfers get exactly one attempt.
package tor
