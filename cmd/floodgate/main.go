// Floodgate is an admission-control gateway.
//
// It sits in front of an HTTP service and decides, per client key and
// route, whether each request is admitted now, rejected with a retry hint,
// or queued and released at a steady rate.
//
// Usage:
//
//	# Start the gateway
//	floodgate run --config config.yaml
//
//	# Check a configuration file
//	floodgate validate --config config.yaml
//
//	# Try a strategy against a synthetic request stream
//	floodgate simulate --strategy token_bucket --max-tokens 5 --refill-rate 1 --requests 10 --interval 100ms
//
//	# Show recorded decision statistics
//	floodgate stats --config config.yaml --policy api
package main

import "os"

func main() {
	os.Exit(Execute())
}
