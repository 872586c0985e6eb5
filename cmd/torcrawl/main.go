// Package main provides the entry point for the torcrawl CLI.
//
// torcrawl downloads a list of URLs in parallel through a fleet of Tor
// daemons. Each download slot is bound to its own Tor SOCKS port, so
// concurrent transfers leave the network through different circuits.
//
// Usage:
//
//	torcrawl crawl <url>...
//	torcrawl crawl --list <file>
//	torcrawl results --failed-urls
//
// See --help for all available options.
package main

// main is the entry point for torcrawl.
func main() {
	Execute()
}
