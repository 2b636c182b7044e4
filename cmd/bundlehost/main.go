// Package main is the entry point for bundlehost.
package main

func main() {
	Execute()
}
