package services

// Realtime event names shared by services, the hub and the websocket handler.
const (
	EventMessageReceive    = "message:receive"
	EventMessageSent       = "message:sent"
	EventMessageReadUpdate = "message:read_update"
	EventChatParticipants  = "chat:participants"
	EventChatUpdated       = "chat:updated"
	EventChatDeleted       = "chat:deleted"
	EventChatTyping        = "chat:typing"
	EventChatStopTyping    = "chat:stopTyping"
	EventUserStatusChanged = "userStatusChanged"
	EventDMReceive         = "dm:receive"
	EventDMSent            = "dm:sent"
	EventActivityNotify    = "activity:notification"
	EventError             = "error"
)

// Notifier is how mutations reach connected clients. The pool hub implements
// it; services never learn about individual connections. Delivery is best
// effort and a failed publish never fails the mutation that triggered it.
type Notifier interface {
	// ToChat publishes to every connection subscribed to the chat channel,
	// except the connection with id excludeConn (empty means no exclusion).
	ToChat(chatID int, event string, data any, excludeConn string)
	// ToUser publishes to every connection of one user.
	ToUser(userID int, event string, data any)
	// ToAll publishes to every connection.
	ToAll(event string, data any)
}

// NoopNotifier drops everything; used where no hub is wired.
type NoopNotifier struct{}

func (NoopNotifier) ToChat(int, string, any, string) {}
func (NoopNotifier) ToUser(int, string, any)         {}
func (NoopNotifier) ToAll(string, any)               {}
