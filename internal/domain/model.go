package domain

import "strings"

// Model types.
const (
	ModelStandard = 0
	ModelCloze    = 1
)

// FieldSeparator joins the field values of a note in the flds column.
const FieldSeparator = "\x1f"

// Model (note type) defines the fields of a note and the templates used to
// generate its cards.
type Model struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Type      int        `json:"type"`
	SortField int        `json:"sortf"`
	Templates []Template `json:"tmpls"`
	Fields    []Field    `json:"flds"`
	Mod       int64      `json:"mod"`
	Usn       int        `json:"usn"`
}

// Template is a card generation rule, identified by its ordinal.
type Template struct {
	Name string `json:"name"`
	Ord  int    `json:"ord"`
	Qfmt string `json:"qfmt"`
	Afmt string `json:"afmt"`
}

// Field is a named field definition of a model.
type Field struct {
	Name string `json:"name"`
	Ord  int    `json:"ord"`
}

// IsCloze reports whether cards of this model are generated from cloze
// deletions rather than from a fixed template list.
func (m *Model) IsCloze() bool {
	return m.Type == ModelCloze
}

// TemplateOrds returns the ordinals of the model's templates.
func (m *Model) TemplateOrds() []int {
	ords := make([]int, 0, len(m.Templates))
	for _, t := range m.Templates {
		ords = append(ords, t.Ord)
	}
	return ords
}

// Note is a unit of content from which cards are generated.
type Note struct {
	ID      int64
	GUID    string
	ModelID int64
	Mod     int64
	Usn     int
	Tags    []string
	Fields  []string
	SortFld string
	Csum    int64
	Flags   int
	Data    string
}

// JoinedFields returns the note fields in their stored form.
func (n *Note) JoinedFields() string {
	return strings.Join(n.Fields, FieldSeparator)
}

// Deck groups cards. A dynamic (filtered) deck borrows cards from other decks.
type Deck struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Dyn  int    `json:"dyn"`
	// Conf is the options group of a regular deck. Dynamic decks must not
	// carry one.
	Conf *int64 `json:"conf,omitempty"`
	Mod  int64  `json:"mod"`
	Usn  int    `json:"usn"`
}

// IsDynamic reports whether the deck is a filtered deck.
func (d *Deck) IsDynamic() bool {
	return d.Dyn != 0
}
