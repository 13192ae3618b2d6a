// Package main is the entry point for meterlink, a demo integration
// service against a usage-based billing vendor.
package main

func main() {
	Execute()
}
