package bus

// Subject taxonomy for the database service. Everything is rooted at
// "rosey.db.". Row and migrate subjects carry the plugin name as the
// fourth token.
const (
	// Pub/sub (fire-and-forget)
	SubjectUserJoined   = "rosey.db.user.joined"
	SubjectUserLeft     = "rosey.db.user.left"
	SubjectMessageLog   = "rosey.db.message.log"
	SubjectUserCount    = "rosey.db.stats.user_count"
	SubjectHighWater    = "rosey.db.stats.high_water"
	SubjectStatusUpdate = "rosey.db.status.update"
	SubjectMarkSent     = "rosey.db.messages.outbound.mark_sent"
	SubjectMarkFailed   = "rosey.db.messages.outbound.mark_failed"
	SubjectPMCommand    = "rosey.db.action.pm_command"

	// Request/reply
	SubjectOutboundGet      = "rosey.db.messages.outbound.get"
	SubjectOutboundEnqueue  = "rosey.db.messages.outbound.enqueue"
	SubjectRecentChatGet    = "rosey.db.stats.recent_chat.get"
	SubjectChannelStats     = "rosey.db.query.channel_stats"
	SubjectUserStats        = "rosey.db.query.user_stats"
	SubjectUserCountHistory = "rosey.db.query.user_count_history"
	SubjectStatusGet        = "rosey.db.query.status"
	SubjectKVSet            = "rosey.db.kv.set"
	SubjectKVGet            = "rosey.db.kv.get"
	SubjectKVDelete         = "rosey.db.kv.delete"
	SubjectKVList           = "rosey.db.kv.list"

	// Wildcard patterns; the plugin name occupies the fourth token
	PatternSchemaRegister  = "rosey.db.row.*.schema.register"
	PatternRowInsert       = "rosey.db.row.*.insert"
	PatternRowSelect       = "rosey.db.row.*.select"
	PatternRowUpdate       = "rosey.db.row.*.update"
	PatternRowDelete       = "rosey.db.row.*.delete"
	PatternRowSearch       = "rosey.db.row.*.search"
	PatternMigrateApply    = "rosey.db.migrate.*.apply"
	PatternMigrateRollback = "rosey.db.migrate.*.rollback"
	PatternMigrateStatus   = "rosey.db.migrate.*.status"
)

// RowSubject builds the concrete row-operation subject for a plugin
func RowSubject(plugin, op string) string {
	return "rosey.db.row." + plugin + "." + op
}

// MigrateSubject builds the concrete migration subject for a plugin
func MigrateSubject(plugin, op string) string {
	return "rosey.db.migrate." + plugin + "." + op
}
