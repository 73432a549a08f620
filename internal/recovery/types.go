package recovery

import "time"

// QuarantineRecord tracks an item waiting in Errors/ for its retry.
type QuarantineRecord struct {
	TaskID        string    `json:"original_name"`
	ErrorsFile    string    `json:"errors_filename"`
	Reason        string    `json:"reason"`
	Attempt       int       `json:"attempt"`
	QuarantinedAt time.Time `json:"quarantined_at"`
	RetryAt       time.Time `json:"retry_at"`
}

// ExhaustedRecord tracks an item that reached the retry ceiling. It stays in
// Errors/ until an operator intervenes.
type ExhaustedRecord struct {
	TaskID      string    `json:"original_name"`
	ErrorsFile  string    `json:"errors_filename"`
	Attempts    int       `json:"attempts"`
	Reason      string    `json:"reason"`
	ExhaustedAt time.Time `json:"exhausted_at"`
}

// Snapshot is the persisted recovery ledger.
type Snapshot struct {
	Quarantined map[string]*QuarantineRecord `json:"quarantined"`
	Exhausted   map[string]*ExhaustedRecord  `json:"exhausted"`
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		Quarantined: make(map[string]*QuarantineRecord),
		Exhausted:   make(map[string]*ExhaustedRecord),
	}
}

// Summary counts what a recovery pass did.
type Summary struct {
	Quarantined  int
	Retried      int
	Exhausted    int
	Dropped      int // ledger entries whose files had disappeared
	InQuarantine int
	ExhaustedAll int
}

// Observer is told about every transition so the owner of task records can
// mirror it.
type Observer interface {
	TaskQuarantined(taskID string) error
	TaskRetried(taskID string) error
	TaskExhausted(taskID string) error
}
