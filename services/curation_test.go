package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"leaflens/locker"
	"leaflens/models"
)

func newCuration(t *testing.T) (*gorm.DB, *CurationService) {
	t.Helper()
	db := setupTestDB(t)
	return db, NewCurationService(db, locker.NewKeyedMutex(), testLogger())
}

func submit(t *testing.T, svc *CurationService, diseaseID uint, category, body string) *models.Suggestion {
	t.Helper()
	sg, err := svc.Submit(context.Background(), farmer, SuggestionInput{DiseaseID: diseaseID, Category: category, Body: body})
	require.NoError(t, err)
	return sg
}

func suggestionStatus(t *testing.T, db *gorm.DB, id uint) string {
	t.Helper()
	var sg models.Suggestion
	require.NoError(t, db.First(&sg, id).Error)
	return sg.Status
}

func TestSubmitStartsPending(t *testing.T) {
	db, svc := newCuration(t)
	d := createDisease(t, db, "Blight", models.KnowledgeDocument{})

	sg := submit(t, svc, d.ID, models.CategoryPrevention, "Crop rotation")
	assert.NotZero(t, sg.ID)
	assert.Equal(t, models.StatusPending, sg.Status)
	assert.Equal(t, farmer.UserID, sg.UserID)
	assert.Equal(t, models.StatusPending, suggestionStatus(t, db, sg.ID))
}

func TestSubmitValidation(t *testing.T) {
	db, svc := newCuration(t)
	d := createDisease(t, db, "Blight", models.KnowledgeDocument{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, nil, SuggestionInput{DiseaseID: d.ID, Category: models.CategoryCause, Body: "Fungus"})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = svc.Submit(ctx, farmer, SuggestionInput{DiseaseID: d.ID, Category: "symptom", Body: "Spots"})
	assert.ErrorIs(t, err, ErrInvalidCategory)

	_, err = svc.Submit(ctx, farmer, SuggestionInput{DiseaseID: d.ID, Category: models.CategoryCause, Body: "  "})
	assert.ErrorIs(t, err, ErrEmptySuggestion)

	_, err = svc.Submit(ctx, farmer, SuggestionInput{DiseaseID: d.ID + 99, Category: models.CategoryCause, Body: "Fungus"})
	assert.ErrorIs(t, err, ErrUnknownDisease)

	_, err = svc.Submit(ctx, farmer, SuggestionInput{Category: models.CategoryCause, Body: "Fungus"})
	assert.ErrorIs(t, err, ErrUnknownDisease)

	var count int64
	db.Model(&models.Suggestion{}).Count(&count)
	assert.Zero(t, count)
}

func TestApproveAppendsOnceAndRejectsDuplicate(t *testing.T) {
	db, svc := newCuration(t)
	d := createDisease(t, db, "Blight", models.KnowledgeDocument{})
	ctx := context.Background()

	first := submit(t, svc, d.ID, models.CategoryPrevention, "Crop rotation")
	approved, err := svc.Approve(ctx, admin, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)
	assert.Equal(t, models.StatusApproved, suggestionStatus(t, db, first.ID))
	assert.Equal(t, []string{"Crop rotation"}, reloadDisease(t, db, d.ID).Prevention)

	dup := submit(t, svc, d.ID, models.CategoryPrevention, "Crop rotation")
	_, err = svc.Approve(ctx, admin, dup.ID)
	assert.ErrorIs(t, err, ErrDuplicateSuggestion)
	assert.Equal(t, models.StatusPending, suggestionStatus(t, db, dup.ID))
	assert.Equal(t, []string{"Crop rotation"}, reloadDisease(t, db, d.ID).Prevention)

	// ein Duplikat kann anschließend abgelehnt werden
	rejected, err := svc.Reject(ctx, admin, dup.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)
}

func TestApproveDuplicateCheckIsPerCategory(t *testing.T) {
	db, svc := newCuration(t)
	d := createDisease(t, db, "Common Rust", models.KnowledgeDocument{Treatment: []string{"Crop rotation"}})

	sg := submit(t, svc, d.ID, models.CategoryPrevention, "Crop rotation")
	_, err := svc.Approve(context.Background(), admin, sg.ID)
	require.NoError(t, err)

	doc := reloadDisease(t, db, d.ID)
	assert.Equal(t, []string{"Crop rotation"}, doc.Prevention)
	assert.Equal(t, []string{"Crop rotation"}, doc.Treatment)
	assert.Empty(t, doc.Causes)
}

func TestApproveNormalizesMissingLists(t *testing.T) {
	db, svc := newCuration(t)
	d := &models.Disease{Name: "Gray Leaf Spot"}
	require.NoError(t, db.Create(d).Error)
	require.NoError(t, db.Exec("UPDATE diseases SET metadata = ? WHERE id = ?", `{"causes":["Cercospora zeae-maydis"]}`, d.ID).Error)

	sg := submit(t, svc, d.ID, models.CategoryTreatment, "Resistant hybrids")
	_, err := svc.Approve(context.Background(), admin, sg.ID)
	require.NoError(t, err)

	doc := reloadDisease(t, db, d.ID)
	assert.Equal(t, []string{"Cercospora zeae-maydis"}, doc.Causes)
	assert.Equal(t, []string{"Resistant hybrids"}, doc.Treatment)
	assert.NotNil(t, doc.Prevention)
	assert.Empty(t, doc.Prevention)
}

func TestRejectLeavesDocumentUnchanged(t *testing.T) {
	db, svc := newCuration(t)
	d := createDisease(t, db, "Blight", models.KnowledgeDocument{Causes: []string{"Exserohilum turcicum"}})
	before := reloadDisease(t, db, d.ID)

	sg := submit(t, svc, d.ID, models.CategoryCause, "Humidity")
	rejected, err := svc.Reject(context.Background(), admin, sg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)
	assert.Equal(t, before, reloadDisease(t, db, d.ID))
}

func TestApproveRollsBackDocumentWhenStatusWriteFails(t *testing.T) {
	db, svc := newCuration(t)
	d := createDisease(t, db, "Blight", models.KnowledgeDocument{Causes: []string{"Exserohilum turcicum"}})
	before := reloadDisease(t, db, d.ID)
	sg := submit(t, svc, d.ID, models.CategoryPrevention, "Crop rotation")

	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:fail_suggestion_status", func(tx *gorm.DB) {
		if tx.Statement.Table == "suggestions" {
			tx.AddError(errors.New("status write failed"))
		}
	}))
	_, err := svc.Approve(context.Background(), admin, sg.ID)
	assert.ErrorContains(t, err, "status write failed")
	require.NoError(t, db.Callback().Update().Remove("test:fail_suggestion_status"))

	assert.Equal(t, before, reloadDisease(t, db, d.ID))
	assert.Equal(t, models.StatusPending, suggestionStatus(t, db, sg.ID))
}

func TestApproveRollsBackWhenSuggestionLeftPendingMidTransaction(t *testing.T) {
	db, svc := newCuration(t)
	d := createDisease(t, db, "Blight", models.KnowledgeDocument{})
	before := reloadDisease(t, db, d.ID)
	sg := submit(t, svc, d.ID, models.CategoryTreatment, "Fungicide")

	// ein paralleler Reviewer setzt den Vorschlag zwischen Dokument- und Status-Update auf rejected
	require.NoError(t, db.Callback().Update().After("gorm:update").Register("test:concurrent_reject", func(tx *gorm.DB) {
		if tx.Statement.Table == "diseases" {
			tx.Session(&gorm.Session{NewDB: true}).Exec("UPDATE suggestions SET status = ? WHERE id = ?", models.StatusRejected, sg.ID)
		}
	}))
	_, err := svc.Approve(context.Background(), admin, sg.ID)
	assert.ErrorIs(t, err, ErrSuggestionNotPending)
	require.NoError(t, db.Callback().Update().Remove("test:concurrent_reject"))

	assert.Equal(t, before, reloadDisease(t, db, d.ID))
	assert.Equal(t, models.StatusPending, suggestionStatus(t, db, sg.ID))
}

func TestTerminalSuggestionsCannotTransition(t *testing.T) {
	db, svc := newCuration(t)
	d := createDisease(t, db, "Blight", models.KnowledgeDocument{})
	ctx := context.Background()

	approved := submit(t, svc, d.ID, models.CategoryCause, "Fungus")
	_, err := svc.Approve(ctx, admin, approved.ID)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, admin, approved.ID)
	assert.ErrorIs(t, err, ErrSuggestionNotPending)
	_, err = svc.Reject(ctx, admin, approved.ID)
	assert.ErrorIs(t, err, ErrSuggestionNotPending)
	assert.Equal(t, models.StatusApproved, suggestionStatus(t, db, approved.ID))

	rejected := submit(t, svc, d.ID, models.CategoryCause, "Wind")
	_, err = svc.Reject(ctx, admin, rejected.ID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, admin, rejected.ID)
	assert.ErrorIs(t, err, ErrSuggestionNotPending)
	assert.Equal(t, models.StatusRejected, suggestionStatus(t, db, rejected.ID))
	assert.Equal(t, []string{"Fungus"}, reloadDisease(t, db, d.ID).Causes)
}

func TestReviewRequiresAdmin(t *testing.T) {
	db, svc := newCuration(t)
	d := createDisease(t, db, "Blight", models.KnowledgeDocument{})
	sg := submit(t, svc, d.ID, models.CategoryCause, "Fungus")
	ctx := context.Background()

	_, err := svc.Approve(ctx, farmer, sg.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Reject(ctx, farmer, sg.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Approve(ctx, nil, sg.ID)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	// die Berechtigung wird vor dem Lesen des Vorschlags geprüft
	_, err = svc.Approve(ctx, farmer, sg.ID+100)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Approve(ctx, admin, sg.ID+100)
	assert.ErrorIs(t, err, ErrSuggestionNotFound)
	_, err = svc.Reject(ctx, admin, sg.ID+100)
	assert.ErrorIs(t, err, ErrSuggestionNotFound)

	assert.Equal(t, models.StatusPending, suggestionStatus(t, db, sg.ID))
}

func TestConcurrentApprovalsOfSameText(t *testing.T) {
	db, svc := newCuration(t)
	d := createDisease(t, db, "Blight", models.KnowledgeDocument{})

	const n = 6
	ids := make([]uint, n)
	for i := range ids {
		ids[i] = submit(t, svc, d.ID, models.CategoryPrevention, "Crop rotation").ID
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uint) {
			defer wg.Done()
			_, errs[i] = svc.Approve(context.Background(), admin, id)
		}(i, id)
	}
	wg.Wait()

	approved, duplicates := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			approved++
		case errors.Is(err, ErrDuplicateSuggestion):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, approved)
	assert.Equal(t, n-1, duplicates)
	assert.Equal(t, []string{"Crop rotation"}, reloadDisease(t, db, d.ID).Prevention)
}

func TestConcurrentApprovalsKeepAllAppends(t *testing.T) {
	db, svc := newCuration(t)
	d := createDisease(t, db, "Blight", models.KnowledgeDocument{})

	bodies := []string{"Crop rotation", "Tillage", "Resistant hybrids", "Residue management"}
	var ids []uint
	for _, b := range bodies {
		ids = append(ids, submit(t, svc, d.ID, models.CategoryPrevention, b).ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			_, err := svc.Approve(context.Background(), admin, id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	assert.ElementsMatch(t, bodies, reloadDisease(t, db, d.ID).Prevention)
}

func TestListAndGetSuggestions(t *testing.T) {
	db, svc := newCuration(t)
	blight := createDisease(t, db, "Blight", models.KnowledgeDocument{})
	rust := createDisease(t, db, "Common Rust", models.KnowledgeDocument{})
	ctx := context.Background()

	a := submit(t, svc, blight.ID, models.CategoryPrevention, "Crop rotation")
	b := submit(t, svc, rust.ID, models.CategoryTreatment, "Fungicide spray")
	c := submit(t, svc, rust.ID, models.CategoryPrevention, "Early ROTATION of fields")
	_, err := svc.Reject(ctx, admin, b.ID)
	require.NoError(t, err)

	all, err := svc.List(ctx, farmer, SuggestionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, c.ID, all[0].ID)

	got, err := svc.List(ctx, farmer, SuggestionFilter{DiseaseID: &rust.ID})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = svc.List(ctx, farmer, SuggestionFilter{Status: models.StatusPending, Category: models.CategoryPrevention})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = svc.List(ctx, farmer, SuggestionFilter{Search: "rotation"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []uint{a.ID, c.ID}, []uint{got[0].ID, got[1].ID})

	_, err = svc.List(ctx, nil, SuggestionFilter{})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	one, err := svc.Get(ctx, other, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, one.Status)

	_, err = svc.Get(ctx, other, 999)
	assert.ErrorIs(t, err, ErrSuggestionNotFound)
}
