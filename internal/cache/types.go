package cache

// Chat is the flattened directory entry kept in the cache. It carries what
// the offline chat list renders, not the full wire representation.
type Chat struct {
	ID                 string
	CounterpartID      string
	CounterpartName    string
	ProductID          string
	ProductTitle       string
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// Message is a cached confirmed message. Provisional sends never reach the
// cache; they live only in the session timeline until confirmed.
type Message struct {
	RowID       int64
	ID          string
	ChatID      string
	SenderID    string
	SenderName  string
	Content     string
	Attachments string // JSON array of opaque references
	CreatedAt   int64
}
