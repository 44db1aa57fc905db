package domain

// Card types.
const (
	CardTypeNew     = 0
	CardTypeLearn   = 1
	CardTypeReview  = 2
	CardTypeRelearn = 3
)

// Card queues. Negative queues are buried or suspended cards.
const (
	QueueSchedBuried = -3
	QueueUserBuried  = -2
	QueueSuspended   = -1
	QueueNew         = 0
	QueueLearn       = 1
	QueueReview      = 2
	QueueDayLearn    = 3
)

// Card is a single schedulable review unit generated from a note template.
// Due is a position for new cards and a day number for review cards, so it is
// kept as a float to surface values a buggy scheduler stored with a fraction.
type Card struct {
	ID     int64
	NoteID int64
	DeckID int64
	Ord    int
	Mod    int64
	Usn    int
	Type   int
	Queue  int
	Due    float64
	Ivl    float64
	Factor int
	Reps   int
	Lapses int
	Left   int
	// ODue and ODeckID are only set while the card is borrowed by a
	// filtered deck.
	ODue    int64
	ODeckID int64
	Flags   int
	Data    string
}

// ReviewLog records a single review event for a card.
// Ease corresponds to the answer button:
// 1: Again
// 2: Hard
// 3: Good
// 4: Easy
type ReviewLog struct {
	ID      int64
	CardID  int64
	Usn     int
	Ease    int
	Ivl     float64
	LastIvl float64
	Factor  int
	Time    int
	Type    int
}

// Grave types record what kind of object a deletion tombstone refers to.
const (
	GraveCard = 0
	GraveNote = 1
	GraveDeck = 2
)
