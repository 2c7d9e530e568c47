/*
Package kv implements the per-plugin key/value store.

Values are arbitrary JSON up to 64 KiB serialized. A positive TTL sets
an absolute expiry; a row past its expiry reads as nonexistent even
before the background sweeper deletes it. Listing is lexicographic
with case-sensitive prefix filtering. Every operation is scoped by
plugin name — plugins can never observe each other's keys.
*/
package kv
