package models

import (
	"time"

	"gorm.io/datatypes"
)

// Prediction speichert das Ergebnis genau einer Inferenzanfrage, auch wenn das Bild abgewiesen wurde.
type Prediction struct {
	ID     uint  `json:"id" gorm:"primaryKey"`
	UserID *uint `json:"user" gorm:"index"` // nil = anonym

	ImagePath string `json:"image_path" gorm:"not null"`

	DiseaseID *uint    `json:"-" gorm:"column:predicted_disease_id;index"`
	Disease   *Disease `json:"predicted_disease" gorm:"foreignKey:DiseaseID;constraint:OnDelete:SET NULL"`

	// Klassenname -> Wahrscheinlichkeit, oder {"is_maize": false} bei Abweisung
	Scores datatypes.JSONMap `json:"prediction_scores" gorm:"column:prediction_scores;not null"`

	ExplanationImage *string   `json:"explanation_image"`
	CreatedAt        time.Time `json:"created_at" gorm:"index;<-:create"`
}

// TableName gibt explizit den Tabellennamen an.
func (Prediction) TableName() string {
	return "predictions"
}
