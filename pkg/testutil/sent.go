package testutil

// FilterByRoom returns the messages sent to roomID
func FilterByRoom(messages []SentMessage, roomID string) []SentMessage {
	var filtered []SentMessage
	for _, msg := range messages {
		if msg.RoomID == roomID {
			filtered = append(filtered, msg)
		}
	}
	return filtered
}

// Bodies returns the body of each message
func Bodies(messages []SentMessage) []string {
	bodies := make([]string, 0, len(messages))
	for _, msg := range messages {
		bodies = append(bodies, msg.Content.Body)
	}
	return bodies
}

// FindByBody returns the last message with the given body, or nil
func FindByBody(messages []SentMessage, body string) *SentMessage {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Content.Body == body {
			return &messages[i]
		}
	}
	return nil
}
