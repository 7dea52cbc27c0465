package knowledge

// Metadata is the open string-keyed mapping attached to items and links.
// Values must survive a JSON round-trip; after deserialization numeric values
// arrive as float64 and string lists as []interface{}, so the accessors below
// normalize both shapes.
type Metadata map[string]interface{}

// Clone returns a shallow copy. A nil receiver yields an empty map, so callers
// can mutate the result without nil checks.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge overlays other onto m; other's values win on key conflict.
func (m Metadata) Merge(other Metadata) {
	for k, v := range other {
		m[k] = v
	}
}

// GetString returns the string value for key, or "" when absent or non-string.
func (m Metadata) GetString(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// GetInt returns the integer value for key, tolerating JSON's float64 decoding.
func (m Metadata) GetInt(key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// GetFloat returns the float value for key, or 0 when absent.
func (m Metadata) GetFloat(key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Sessions returns the session-id list recorded under the reserved sessions
// key, handling both the in-memory []string shape and the post-JSON
// []interface{} shape.
func (m Metadata) Sessions() []string {
	switch v := m[metaSessions].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// SessionCount returns the recorded session_count.
func (m Metadata) SessionCount() int {
	return m.GetInt(metaSessionCount)
}

// setSessions records the session set and keeps session_count consistent.
func (m Metadata) setSessions(sessions []string) {
	m[metaSessions] = sessions
	m[metaSessionCount] = len(sessions)
}

// addSession unions a session id into the recorded set. Empty ids are ignored.
func (m Metadata) addSession(sessionID string) {
	sessions := m.Sessions()
	if sessionID != "" {
		found := false
		for _, s := range sessions {
			if s == sessionID {
				found = true
				break
			}
		}
		if !found {
			sessions = append(sessions, sessionID)
		}
	}
	if sessions == nil {
		sessions = []string{}
	}
	m.setSessions(sessions)
}
