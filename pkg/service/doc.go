/*
Package service implements the database service: the bus-facing front
end over storage, the schema registry, the row engine, the KV store
and the migration engine.

On start the service subscribes to every subject under rosey.db and
dispatches into the owning component. Request/reply handlers always
respond exactly once — a parse failure responds INVALID_JSON rather
than dropping the request. Pub/sub handlers log failures and return;
fire-and-forget publishers never learn of errors.

# Subject dispatch

	┌───────────────────── DATABASE SERVICE ───────────────────┐
	│                                                            │
	│  rosey.db.user.*            ─► storage (session writes)   │
	│  rosey.db.message.log       ─► storage (chat history)     │
	│  rosey.db.stats.*           ─► storage (counters, marks)  │
	│  rosey.db.status.update     ─► storage (status snapshot)  │
	│  rosey.db.messages.outbound.* ─► storage (retry queue)    │
	│  rosey.db.query.*           ─► storage (read queries)     │
	│  rosey.db.kv.*              ─► kv store                   │
	│  rosey.db.row.{plugin}.*    ─► registry + row engine      │
	│  rosey.db.migrate.{plugin}.* ─► migration engine          │
	│                                                            │
	│  Background: KV TTL sweeper, daily maintenance (cron),    │
	│  shutdown session sweep. All tied to one shutdown signal. │
	└────────────────────────────────────────────────────────┘

Wildcard subjects carry the plugin name as the fourth token; a subject
too short to carry one is answered with INVALID_SUBJECT.

# Envelope

	request  ::= JSON object
	response ::= {"success": true, ...payload}
	           | {"success": false, "error": {"code": ..., "message": ...}}

Handler bodies run under a recover barrier: a panic is logged and, on
request/reply, answered with INTERNAL_ERROR. No single bad message can
take the process down.
*/
package service
