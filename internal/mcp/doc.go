// Package mcp serves the iiif-auth tool over line-delimited JSON-RPC 2.0 on a
// pair of streams, normally stdin and stdout.
//
// Supported methods:
//
//	initialize                 server info and capabilities
//	notifications/initialized  acknowledged, no response
//	tools/list                 the iiif-auth tool and its input schema
//	tools/call                 runs one iiif-auth action
//	ping                       empty result
//
// Tool calls run concurrently; responses are written one line at a time in
// completion order.
package mcp
