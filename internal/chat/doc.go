// Package chat implements the multiplexed line-chat server: a single
// event loop that accepts clients, assembles their input into lines and
// broadcasts each line to everyone else.
package chat
