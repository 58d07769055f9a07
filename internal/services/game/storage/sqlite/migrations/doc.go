// Package migrations embeds the audit store schema.
package migrations
