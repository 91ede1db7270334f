package events

// AlertReceivedData contains data for AlertReceived events
type AlertReceivedData struct {
	AlertID  string `json:"alert_id"`
	Symbol   string `json:"symbol"`
	Signal   string `json:"signal"`
	SourceIP string `json:"source_ip,omitempty"`
}

// EventType returns the event type for AlertReceivedData
func (d *AlertReceivedData) EventType() EventType { return AlertReceived }

// AlertDuplicateData contains data for AlertDuplicate events
type AlertDuplicateData struct {
	Fingerprint string `json:"fingerprint"`
	Symbol      string `json:"symbol"`
}

// EventType returns the event type for AlertDuplicateData
func (d *AlertDuplicateData) EventType() EventType { return AlertDuplicate }

// AlertMatchedData contains data for AlertMatched events
type AlertMatchedData struct {
	AlertID      string  `json:"alert_id"`
	ConfigIDs    []int64 `json:"config_ids"`
	MatchedUsers int     `json:"matched_users"`
	ProcessingMs int64   `json:"processing_ms"`
}

// EventType returns the event type for AlertMatchedData
func (d *AlertMatchedData) EventType() EventType { return AlertMatched }

// AlertFailedData contains data for AlertFailed events
type AlertFailedData struct {
	AlertID string `json:"alert_id"`
	Error   string `json:"error"`
}

// EventType returns the event type for AlertFailedData
func (d *AlertFailedData) EventType() EventType { return AlertFailed }

// TradeOpenedData contains data for TradeOpened events
type TradeOpenedData struct {
	TradeNumber int64   `json:"trade_number"`
	UserID      string  `json:"user_id"`
	ConfigID    int64   `json:"config_id"`
	Symbol      string  `json:"symbol"`
	Signal      string  `json:"signal"`
	EntryPrice  float64 `json:"entry_price"`
}

// EventType returns the event type for TradeOpenedData
func (d *TradeOpenedData) EventType() EventType { return TradeOpened }

// TradeClosedData contains data for TradeClosed events
type TradeClosedData struct {
	TradeNumber int64    `json:"trade_number"`
	UserID      string   `json:"user_id"`
	ExitReason  string   `json:"exit_reason"`
	ExitPrice   float64  `json:"exit_price"`
	PnLAmount   *float64 `json:"pnl_amount,omitempty"`
}

// EventType returns the event type for TradeClosedData
func (d *TradeClosedData) EventType() EventType { return TradeClosed }

// TradeReplacedData contains data for TradeReplaced events
type TradeReplacedData struct {
	OldTradeNumber int64  `json:"old_trade_number"`
	NewTradeNumber int64  `json:"new_trade_number"`
	UserID         string `json:"user_id"`
	Reason         string `json:"reason"`
}

// EventType returns the event type for TradeReplacedData
func (d *TradeReplacedData) EventType() EventType { return TradeReplaced }

// TradeSkippedData contains data for TradeSkipped events
type TradeSkippedData struct {
	UserID   string `json:"user_id"`
	ConfigID int64  `json:"config_id"`
	Reason   string `json:"reason"`
}

// EventType returns the event type for TradeSkippedData
func (d *TradeSkippedData) EventType() EventType { return TradeSkipped }

// UserAlertTriggeredData contains data for UserAlertTriggered events
type UserAlertTriggeredData struct {
	AlertID int64   `json:"alert_id"`
	UserID  string  `json:"user_id"`
	Symbol  string  `json:"symbol"`
	Value   float64 `json:"value"`
}

// EventType returns the event type for UserAlertTriggeredData
func (d *UserAlertTriggeredData) EventType() EventType { return UserAlertTriggered }

// UserAlertFailedData contains data for UserAlertFailed events
type UserAlertFailedData struct {
	AlertID int64  `json:"alert_id"`
	Error   string `json:"error"`
}

// EventType returns the event type for UserAlertFailedData
func (d *UserAlertFailedData) EventType() EventType { return UserAlertFailed }

// NotificationSentData contains data for NotificationSent events
type NotificationSentData struct {
	UserID   string `json:"user_id"`
	Kind     string `json:"kind"`
	Attempts int    `json:"attempts"`
}

// EventType returns the event type for NotificationSentData
func (d *NotificationSentData) EventType() EventType { return NotificationSent }

// NotificationFailedData contains data for NotificationFailed events
type NotificationFailedData struct {
	UserID   string `json:"user_id"`
	Kind     string `json:"kind"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// EventType returns the event type for NotificationFailedData
func (d *NotificationFailedData) EventType() EventType { return NotificationFailed }

// QueueSaturatedData contains data for QueueSaturated events
type QueueSaturatedData struct {
	Queue string `json:"queue"`
}

// EventType returns the event type for QueueSaturatedData
func (d *QueueSaturatedData) EventType() EventType { return QueueSaturated }

// BackupFinishedData contains data for BackupFinished events
type BackupFinishedData struct {
	Archive   string `json:"archive"`
	SizeBytes int64  `json:"size_bytes"`
	Uploaded  bool   `json:"uploaded"`
}

// EventType returns the event type for BackupFinishedData
func (d *BackupFinishedData) EventType() EventType { return BackupFinished }
