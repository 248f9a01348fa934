// Package session owns the one physical connection to a broker and the
// logical channels multiplexed over it.
//
// A single actor goroutine holds the connection, the channel registry and
// the per-channel inbox. Channel handles submit requests to it and wait for
// the reply, so writes never interleave and a read on one channel parks
// frames addressed to another channel in that channel's inbox.
package session
