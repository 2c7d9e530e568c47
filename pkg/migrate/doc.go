/*
Package migrate implements versioned SQL schema migrations for
plugins.

Migration files live under <plugin_root>/<plugin>/migrations/ named
NNN_<snake_case_name>.sql, each with an "-- UP" and a "-- DOWN"
section. The ledger (plugin_schema_migrations) records every apply,
failure and rollback; the current version for a plugin is the highest
version with status=applied.

Apply validates the whole pending batch first — an ERROR finding
rejects the batch before anything runs, WARNINGs pass through — then
runs each migration's UP in its own transaction, writing the ledger
row inside it. A failure rolls back, records status=failed with the
error, and stops the batch, reporting what was applied. Rollback runs
DOWN sections in descending order symmetrically.

Dry-run executes the full batch inside one transaction and throws an
internal rollback sentinel at the end: every migration is exercised
against its predecessors' effects, then nothing is kept — neither
schema changes nor ledger rows. The sentinel is expected control flow
and is never surfaced as a failure.

Checksums are SHA-256 over the file with line endings normalized.
Status verifies each applied migration against the file currently on
disk; a mismatch or a missing file is surfaced as a checksum warning,
not a block on apply.

Operations on one plugin serialize under a process-local lock with a
30-second acquire timeout; different plugins migrate in parallel.
*/
package migrate
