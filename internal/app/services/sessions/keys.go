package sessions

// KV key layout. All session hot-path keys are namespaced by the identity
// that owns the attempt (stake for connected players, anon id for guests).

func sessionKey(sessionID string) string { return "session:" + sessionID }

func lockKey(identity string) string { return "lock:session:" + identity }

func dailyKey(identity, date string) string { return "limit:daily:" + identity + ":" + date }

func cooldownKey(identity string) string { return "cooldown:" + identity }

func seenKey(identity, categoryID, date string) string {
	return "seen:" + identity + ":" + categoryID + ":" + date
}
