/*
Package events defines the normalized event vocabulary and the
normalizer that maps raw platform events into it.

Normalized events (message, pm, user_join, user_leave, user_list plus
the connected/disconnected/error lifecycle signals) carry a fixed
field set regardless of chat platform; the untouched original payload
rides along under platform_data. Millisecond timestamps are converted
to seconds, and is_moderator derives from rank. Events the normalizer
does not recognize pass through unchanged so consumers can still
observe platform-specific traffic.
*/
package events
