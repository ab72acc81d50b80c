package models

import "time"

// Kategorien eines Vorschlags. Jede Kategorie zielt auf eine Liste im Wissensdokument.
const (
	CategoryCause      = "cause"
	CategoryPrevention = "prevention"
	CategoryTreatment  = "treatment"
)

// Status eines Vorschlags. approved und rejected sind endgültig.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

var categoryLists = map[string]string{
	CategoryCause:      ListCauses,
	CategoryPrevention: ListPrevention,
	CategoryTreatment:  ListTreatment,
}

// DocumentList liefert den Listennamen im Wissensdokument für eine Kategorie.
func DocumentList(category string) (string, bool) {
	l, ok := categoryLists[category]
	return l, ok
}

// Suggestion ist ein vorgeschlagener Nachtrag zum Wissensdokument einer Krankheit.
type Suggestion struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	DiseaseID uint      `json:"disease" gorm:"not null;index"`
	Disease   *Disease  `json:"-" gorm:"foreignKey:DiseaseID;constraint:OnDelete:CASCADE"`
	UserID    uint      `json:"user" gorm:"not null;index"`
	Category  string    `json:"type" gorm:"column:type;size:20;not null;index"`
	Body      string    `json:"suggestion" gorm:"column:suggestion;type:text;not null"`
	Status    string    `json:"status" gorm:"size:20;not null;default:'pending';index"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// TableName gibt explizit den Tabellennamen an.
func (Suggestion) TableName() string {
	return "suggestions"
}
