// Package types defines the JSON bodies the gateway writes itself.
//
// ErrorResponse is written for every rejection or internal failure:
//
//	{
//	  "error": {
//	    "message": "rate limit exceeded",
//	    "type": "rate_limit_exceeded",
//	    "code": "queue_full",
//	    "policy": "checkout",
//	    "retry_after_seconds": 1
//	  }
//	}
//
// EchoResponse is written by the built-in handler used when no upstream is
// configured.
package types
