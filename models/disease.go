package models

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// Namen der drei Listen im Wissensdokument einer Krankheit.
const (
	ListCauses     = "causes"
	ListPrevention = "prevention"
	ListTreatment  = "treatment"
)

// KnowledgeDocument ist das strukturierte Wissensdokument einer Krankheit.
type KnowledgeDocument struct {
	Causes     []string `json:"causes" yaml:"causes"`
	Prevention []string `json:"prevention" yaml:"prevention"`
	Treatment  []string `json:"treatment" yaml:"treatment"`
}

// Normalize ersetzt fehlende Listen durch leere Listen.
func (d *KnowledgeDocument) Normalize() {
	if d.Causes == nil {
		d.Causes = []string{}
	}
	if d.Prevention == nil {
		d.Prevention = []string{}
	}
	if d.Treatment == nil {
		d.Treatment = []string{}
	}
}

// MarshalJSON schreibt fehlende Listen immer als [], nie als null.
func (d KnowledgeDocument) MarshalJSON() ([]byte, error) {
	type plain KnowledgeDocument
	d.Normalize()
	return json.Marshal(plain(d))
}

// List liefert einen Pointer auf die benannte Liste, oder nil für unbekannte Namen.
func (d *KnowledgeDocument) List(name string) *[]string {
	switch name {
	case ListCauses:
		return &d.Causes
	case ListPrevention:
		return &d.Prevention
	case ListTreatment:
		return &d.Treatment
	}
	return nil
}

// Disease ist ein Eintrag im Krankheitskatalog.
type Disease struct {
	ID             uint                                  `json:"id" gorm:"primaryKey"`
	Name           string                                `json:"name" gorm:"size:100;not null;index"`
	ScientificName *string                               `json:"scientific_name" gorm:"size:255"`
	Description    *string                               `json:"description" gorm:"type:text"`
	Document       datatypes.JSONType[KnowledgeDocument] `json:"metadata" gorm:"column:metadata"`
	SampleImage    *string                               `json:"sample_image"`
}

// NewDocument verpackt ein Wissensdokument normalisiert für die Spalte metadata.
func NewDocument(doc KnowledgeDocument) datatypes.JSONType[KnowledgeDocument] {
	doc.Normalize()
	return datatypes.NewJSONType(doc)
}

// TableName gibt explizit den Tabellennamen an.
func (Disease) TableName() string {
	return "diseases"
}
