/*
Package bus wraps the NATS client behind the small Conn interface the
bot and the database service are written against.

Conn offers fire-and-forget Publish, Subscribe with single-token
wildcards, and Request with a caller-chosen timeout over a private
inbox subject. Reconnection is transparent: the underlying client
retries with bounded backoff while in-flight requests fail with
ErrTimeout and callers decide whether to retry.

MemoryConn is an in-process implementation with the same delivery
semantics (serialized per subscription, concurrent across
subscriptions), used by the test suites so handler behavior can be
exercised without a broker.

The subjects file is the single source of truth for the rosey.db
subject taxonomy.
*/
package bus
