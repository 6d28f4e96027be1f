package cache

import "fmt"

// Key builders. Every cached read and every invalidation goes through these so
// that the key shapes stay in one place.

func ConversationsKey(userID int64) string {
	return fmt.Sprintf("conversations:%d", userID)
}

func ConversationsPrefix(userID int64) string {
	return fmt.Sprintf("conversations:%d", userID)
}

func MessagesKey(conversationID string, limit int, cursor string) string {
	if cursor == "" {
		return fmt.Sprintf("messages:%s:limit:%d", conversationID, limit)
	}
	return fmt.Sprintf("messages:%s:limit:%d:cursor:%s", conversationID, limit, cursor)
}

func MessagesPrefix(conversationID string) string {
	return fmt.Sprintf("messages:%s", conversationID)
}

func MemoriesKey(userID int64) string {
	return fmt.Sprintf("memories:%d", userID)
}

func MemoriesPrefix(userID int64) string {
	return fmt.Sprintf("memories:%d", userID)
}
