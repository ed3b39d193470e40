package tag

// CommStatus is one step of a tag exchange as shown to the user.
type CommStatus string

const (
	// StatusIdle is reported before the first exchange.
	StatusIdle         CommStatus = "IDLE"
	StatusWaiting      CommStatus = "WAITING"
	StatusSearching    CommStatus = "SEARCHING"
	StatusConnecting   CommStatus = "CONNECTING"
	StatusConnected    CommStatus = "CONNECTED"
	StatusDisconnected CommStatus = "DISCONNECTED"
	StatusSending      CommStatus = "SENDING"
	StatusSent         CommStatus = "SENT"
	StatusSendFail     CommStatus = "SEND_FAIL"
)
