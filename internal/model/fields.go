package model

// Key families shared by the generic JSON heuristics. Order matters: the
// first key present in a record wins.
var (
	SenderKeys = []string{"sender", "sender_name", "from", "author", "user", "name", "username", "speaker"}
	TextKeys   = []string{"text", "content", "message", "body", "msg"}
	DateKeys   = []string{"date", "timestamp", "time", "sent_at", "created_at", "timestamp_ms", "datetime"}
)
