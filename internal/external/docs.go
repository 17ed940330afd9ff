// Package external holds the request and response bodies exchanged with API clients.
package external
