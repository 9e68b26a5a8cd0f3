// Package main provides the proxyharvest command line tool.
//
// proxyharvest collects public proxy lists from a set of well-known
// sources, verifies them against a battery of target sites and keeps the
// functional ones in a local SQLite store.
//
// Usage:
//
//	proxyharvest harvest --kind http --verify
//	proxyharvest revalidate
//	proxyharvest serve
//
// See --help for all available options.
package main

func main() {
	Execute()
}
