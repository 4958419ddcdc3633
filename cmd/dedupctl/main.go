// Command dedupctl checks story artifacts for duplicates and maintains the dedup index.
package main

func main() {
	Execute()
}
