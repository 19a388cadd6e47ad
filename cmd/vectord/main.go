// Vectord is an event-driven embedding pipeline daemon.
//
// It consumes content creation events from NATS JetStream, embeds the
// content through a provider chain with local fallback, and persists
// binary vector records in a JetStream key-value bucket.
//
// Usage:
//
//	vectord serve --config /etc/vectord/config.yaml
//	vectord migrate [tenant...]
//	vectord sweep
//	vectord dlq list <tenant>
//	vectord dlq purge <tenant>
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
