package gateway

// Change topics name the live queries a write invalidates. Stores publish the
// topic after committing; live queries on that topic re-run and push a fresh
// snapshot.

const OnlineUsersTopic = "presence:online"

func MessagesTopic(conversationID string) string {
	return "conversation:" + conversationID + ":messages"
}

func ConversationsTopic(uid string) string {
	return "user:" + uid + ":conversations"
}
