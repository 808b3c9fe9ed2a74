// Package chat holds in-memory chat sessions and their message logs.
package chat
