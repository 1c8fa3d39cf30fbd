// Package fasticaputil provides in-memory connections for testing
// ICAP servers and clients without touching the network.
package fasticaputil
