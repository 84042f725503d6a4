package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qms-platform/signoff/internal/db/models"
	"github.com/qms-platform/signoff/internal/workflow"
)

func TestCreateAndGetDocument(t *testing.T) {
	svc, _ := newTestDocumentService(t)
	ctx := context.Background()

	in := qa001()
	in.Signers = append(in.Signers, workflow.SignerInput{Name: "Carol", Role: "approver"})
	in.BatchID = "bat-1"
	created, err := svc.CreateDocument(ctx, in, creator)
	require.NoError(t, err)

	doc, err := svc.GetDocument(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "QA-001", doc.Title)
	assert.Equal(t, models.StatusDraft, doc.Status)
	assert.Equal(t, "usr-qa", doc.CreatedBy)
	assert.Equal(t, "QA Lead", doc.CreatedByName)
	assert.False(t, doc.PDFAttached)
	require.Len(t, doc.SignRequests, 3)
	for i, sr := range doc.SignRequests {
		assert.Equal(t, i+1, sr.SignOrder)
		assert.Equal(t, models.RequestPending, sr.Status)
	}
	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, []string{
		doc.SignRequests[0].AssignedToName, doc.SignRequests[1].AssignedToName, doc.SignRequests[2].AssignedToName,
	})
	assert.Equal(t, "approver", doc.SignRequests[2].AssignedToRole)
}

func TestCreateDocumentValidation(t *testing.T) {
	svc, database := newTestDocumentService(t)
	_, err := svc.CreateDocument(context.Background(), workflow.CreateInput{Title: "", Signers: []workflow.SignerInput{{Name: "A"}}}, creator)
	assert.ErrorIs(t, err, workflow.ErrValidation)

	var count int64
	require.NoError(t, database.Model(&models.Document{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateDocumentIsAllOrNothing(t *testing.T) {
	// Every sign request gets the same id, so inserting them fails after the
	// document row was written.
	gen := func(prefix string) string { return prefix + "-dup" }
	svc, database := newTestDocumentService(t, workflow.WithIDGenerator(gen))

	_, err := svc.CreateDocument(context.Background(), qa001(), creator)
	require.Error(t, err)

	var docs, requests int64
	require.NoError(t, database.Model(&models.Document{}).Count(&docs).Error)
	require.NoError(t, database.Model(&models.SignRequest{}).Count(&requests).Error)
	assert.Zero(t, docs)
	assert.Zero(t, requests)
}

func TestGetDocumentNotFound(t *testing.T) {
	svc, _ := newTestDocumentService(t)
	_, err := svc.GetDocument(context.Background(), "doc-missing")
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestActSignInOrder(t *testing.T) {
	svc, _ := newTestDocumentService(t, fixedClock())
	ctx := context.Background()
	doc, err := svc.CreateDocument(ctx, qa001(), creator)
	require.NoError(t, err)

	updated, sr, err := svc.Act(ctx, doc.ID, workflow.ActInput{
		RequestID: doc.SignRequests[0].ID, Caller: alice, Action: workflow.ActionSign, Notes: "checked", ClientIP: "10.0.0.5",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestSigned, sr.Status)
	assert.Equal(t, models.StatusInProgress, updated.Status)

	stored, err := svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, stored.Status)
	first := stored.SignRequests[0]
	require.NotNil(t, first.SignedAt)
	assert.Equal(t, "checked", first.Notes)
	assert.Equal(t, "10.0.0.5", first.SignedByIP)

	updated, _, err = svc.Act(ctx, doc.ID, workflow.ActInput{
		RequestID: doc.SignRequests[1].ID, Caller: bob, Action: workflow.ActionSign,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, updated.Status)

	stored, err = svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, stored.Status)
	assert.Equal(t, 2, stored.SignedCount())
}

func TestActRejectionIsSticky(t *testing.T) {
	svc, _ := newTestDocumentService(t)
	ctx := context.Background()
	doc, err := svc.CreateDocument(ctx, qa001(), creator)
	require.NoError(t, err)

	_, sr, err := svc.Act(ctx, doc.ID, workflow.ActInput{
		RequestID: doc.SignRequests[0].ID, Caller: alice, Action: workflow.ActionReject, Notes: "missing data",
	})
	require.NoError(t, err)
	assert.Equal(t, "missing data", sr.RejectionReason)

	updated, bobReq, err := svc.Act(ctx, doc.ID, workflow.ActInput{
		RequestID: doc.SignRequests[1].ID, Caller: bob, Action: workflow.ActionSign,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestSigned, bobReq.Status)
	assert.Equal(t, models.StatusRejected, updated.Status)

	stored, err := svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, stored.Status)
	assert.Equal(t, "missing data", stored.SignRequests[0].RejectionReason)
}

func TestActByEmailOnly(t *testing.T) {
	svc, _ := newTestDocumentService(t)
	ctx := context.Background()
	doc, err := svc.CreateDocument(ctx, qa001(), creator)
	require.NoError(t, err)

	_, sr, err := svc.Act(ctx, doc.ID, workflow.ActInput{
		RequestID: doc.SignRequests[1].ID, Caller: workflow.CallerIdentity{Email: "bob@co.com"}, Action: workflow.ActionSign,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestSigned, sr.Status)
}

func TestActFailuresLeaveStateUntouched(t *testing.T) {
	svc, _ := newTestDocumentService(t)
	ctx := context.Background()
	doc, err := svc.CreateDocument(ctx, qa001(), creator)
	require.NoError(t, err)

	_, _, err = svc.Act(ctx, "doc-missing", workflow.ActInput{RequestID: doc.SignRequests[0].ID, Caller: alice, Action: workflow.ActionSign})
	assert.ErrorIs(t, err, workflow.ErrNotFound)

	_, _, err = svc.Act(ctx, doc.ID, workflow.ActInput{RequestID: "sr-missing", Caller: alice, Action: workflow.ActionSign})
	assert.ErrorIs(t, err, workflow.ErrNotFound)

	_, _, err = svc.Act(ctx, doc.ID, workflow.ActInput{RequestID: doc.SignRequests[1].ID, Caller: alice, Action: workflow.ActionSign})
	assert.ErrorIs(t, err, workflow.ErrAuthorization)

	_, _, err = svc.Act(ctx, doc.ID, workflow.ActInput{RequestID: doc.SignRequests[0].ID, Caller: alice, Action: workflow.ActionSign, Notes: "once"})
	require.NoError(t, err)
	before, err := svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)

	_, _, err = svc.Act(ctx, doc.ID, workflow.ActInput{RequestID: doc.SignRequests[0].ID, Caller: alice, Action: workflow.ActionReject, Notes: "twice"})
	assert.ErrorIs(t, err, workflow.ErrInvalidState)

	after, err := svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.SignRequests[0].Status, after.SignRequests[0].Status)
	assert.Equal(t, "once", after.SignRequests[0].Notes)
	assert.Empty(t, after.SignRequests[0].RejectionReason)
}

func TestActDoubleSubmitOnlyOneWins(t *testing.T) {
	svc, _ := newTestDocumentService(t)
	ctx := context.Background()
	doc, err := svc.CreateDocument(ctx, qa001(), creator)
	require.NoError(t, err)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.Act(ctx, doc.ID, workflow.ActInput{
				RequestID: doc.SignRequests[0].ID, Caller: alice, Action: workflow.ActionSign,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, workflow.ErrInvalidState)
	}
	assert.Equal(t, 1, succeeded)
}

func TestResolveRequestOnlyWritesPendingRows(t *testing.T) {
	svc, database := newTestDocumentService(t)
	ctx := context.Background()
	doc, err := svc.CreateDocument(ctx, qa001(), creator)
	require.NoError(t, err)

	// A copy read before another writer resolved the row.
	stale := doc.SignRequests[0]
	_, _, err = svc.Act(ctx, doc.ID, workflow.ActInput{RequestID: stale.ID, Caller: alice, Action: workflow.ActionSign, Notes: "first"})
	require.NoError(t, err)

	stale.Status = models.RequestRejected
	stale.RejectionReason = "second"
	assert.ErrorIs(t, resolveRequest(database, &stale), workflow.ErrInvalidState)

	stored, err := svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestSigned, stored.SignRequests[0].Status)
	assert.Equal(t, "first", stored.SignRequests[0].Notes)
	assert.Empty(t, stored.SignRequests[0].RejectionReason)

	pending := doc.SignRequests[1]
	pending.Status = models.RequestSigned
	require.NoError(t, resolveRequest(database, &pending))
	require.NoError(t, database.First(&pending, "id = ?", pending.ID).Error)
	assert.Equal(t, models.RequestSigned, pending.Status)
}

func TestConcurrentLastSignersComplete(t *testing.T) {
	svc, _ := newTestDocumentService(t)
	ctx := context.Background()

	const n = 6
	in := workflow.CreateInput{Title: "parallel"}
	for i := 0; i < n; i++ {
		in.Signers = append(in.Signers, workflow.SignerInput{Name: fmt.Sprintf("op%d", i)})
	}
	doc, err := svc.CreateDocument(ctx, in, creator)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i, sr := range doc.SignRequests {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, _, err := svc.Act(ctx, doc.ID, workflow.ActInput{
				RequestID: id, Caller: workflow.CallerIdentity{Username: fmt.Sprintf("op%d", i)}, Action: workflow.ActionSign,
			})
			assert.NoError(t, err)
		}(i, sr.ID)
	}
	wg.Wait()

	stored, err := svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, stored.Status)
	assert.Equal(t, n, stored.SignedCount())
}

func TestSequentialSigningOption(t *testing.T) {
	svc, _ := newTestDocumentService(t, workflow.WithSequentialSigning(true))
	ctx := context.Background()
	doc, err := svc.CreateDocument(ctx, qa001(), creator)
	require.NoError(t, err)

	_, _, err = svc.Act(ctx, doc.ID, workflow.ActInput{RequestID: doc.SignRequests[1].ID, Caller: bob, Action: workflow.ActionSign})
	assert.ErrorIs(t, err, workflow.ErrInvalidState)
}

func TestSetPlaceholder(t *testing.T) {
	svc, _ := newTestDocumentService(t)
	ctx := context.Background()
	doc, err := svc.CreateDocument(ctx, qa001(), creator)
	require.NoError(t, err)

	_, err = svc.SetPlaceholder(ctx, doc.ID, doc.SignRequests[1].ID, models.Placeholder{Page: 3, X: 10, Y: 75.5, W: 30, H: 8})
	require.NoError(t, err)

	stored, err := svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.SignRequests[0].Placeholder())
	assert.Equal(t, &models.Placeholder{Page: 3, X: 10, Y: 75.5, W: 30, H: 8}, stored.SignRequests[1].Placeholder())
	assert.Equal(t, models.StatusDraft, stored.Status)

	_, err = svc.SetPlaceholder(ctx, doc.ID, doc.SignRequests[1].ID, models.Placeholder{Page: 0})
	assert.ErrorIs(t, err, workflow.ErrValidation)
	_, err = svc.SetPlaceholder(ctx, doc.ID, "sr-missing", models.Placeholder{Page: 1})
	assert.ErrorIs(t, err, workflow.ErrNotFound)
	_, err = svc.SetPlaceholder(ctx, "doc-missing", doc.SignRequests[1].ID, models.Placeholder{Page: 1})
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestListDocuments(t *testing.T) {
	svc, _ := newTestDocumentService(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		in := qa001()
		in.Title = fmt.Sprintf("QA-%03d", i)
		if i%2 == 0 {
			in.BatchID = "bat-even"
		}
		doc, err := svc.CreateDocument(ctx, in, creator)
		require.NoError(t, err)
		ids = append(ids, doc.ID)
	}
	_, _, err := svc.Act(ctx, ids[0], workflow.ActInput{RequestID: mustGet(t, svc, ids[0]).SignRequests[0].ID, Caller: alice, Action: workflow.ActionReject})
	require.NoError(t, err)

	docs, err := svc.ListDocuments(ctx, DocumentFilter{})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = svc.ListDocuments(ctx, DocumentFilter{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, docs, 3)

	docs, err = svc.ListDocuments(ctx, DocumentFilter{BatchID: "bat-even", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = svc.ListDocuments(ctx, DocumentFilter{Status: models.StatusRejected})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, ids[0], docs[0].ID)
	assert.Len(t, docs[0].SignRequests, 2)

	counts, err := svc.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.StatusRejected])
	assert.Equal(t, int64(3), counts[models.StatusDraft])
}

func mustGet(t *testing.T, svc *DocumentService, id string) *models.Document {
	t.Helper()
	doc, err := svc.GetDocument(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func TestListPendingFor(t *testing.T) {
	svc, _ := newTestDocumentService(t)
	ctx := context.Background()

	first, err := svc.CreateDocument(ctx, workflow.CreateInput{
		Title: "first",
		Signers: []workflow.SignerInput{
			{Name: " alice "},
			{Name: "Somebody", Email: "BOB@co.com"},
		},
	}, creator)
	require.NoError(t, err)
	second, err := svc.CreateDocument(ctx, workflow.CreateInput{
		Title: "second",
		Signers: []workflow.SignerInput{
			{Name: "Robert", ID: "usr-bob"},
			{Name: "Carol"},
		},
	}, creator)
	require.NoError(t, err)

	tasks, err := svc.ListPendingFor(ctx, bob)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, first.SignRequests[1].ID, tasks[0].Request.ID)
	assert.Equal(t, "first", tasks[0].DocumentTitle)
	assert.Equal(t, second.SignRequests[0].ID, tasks[1].Request.ID)
	assert.Equal(t, "second", tasks[1].DocumentTitle)

	tasks, err = svc.ListPendingFor(ctx, alice)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	_, _, err = svc.Act(ctx, first.ID, workflow.ActInput{RequestID: first.SignRequests[0].ID, Caller: alice, Action: workflow.ActionSign})
	require.NoError(t, err)
	tasks, err = svc.ListPendingFor(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	tasks, err = svc.ListPendingFor(ctx, workflow.CallerIdentity{Role: "admin"})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestListPendingForNonASCIIName(t *testing.T) {
	svc, _ := newTestDocumentService(t)
	ctx := context.Background()

	doc, err := svc.CreateDocument(ctx, workflow.CreateInput{
		Title:   "QA-ÉTÉ",
		Signers: []workflow.SignerInput{{Name: "Émile"}, {Name: "Zoë"}},
	}, creator)
	require.NoError(t, err)

	tasks, err := svc.ListPendingFor(ctx, workflow.CallerIdentity{ID: "usr-emile", FullName: "émile"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, doc.SignRequests[0].ID, tasks[0].Request.ID)

	tasks, err = svc.ListPendingFor(ctx, workflow.CallerIdentity{Username: "ZOË"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, doc.SignRequests[1].ID, tasks[0].Request.ID)
}

func TestDeleteDocumentRemovesEverything(t *testing.T) {
	svc, database := newTestDocumentService(t)
	ctx := context.Background()
	doc, err := svc.CreateDocument(ctx, qa001(), creator)
	require.NoError(t, err)
	require.NoError(t, database.Create(&models.DocumentFile{DocumentID: doc.ID, ContentHash: "x", Content: []byte("%PDF-1.4"), Size: 8}).Error)

	require.NoError(t, svc.DeleteDocument(ctx, doc.ID))

	var requests, files int64
	require.NoError(t, database.Model(&models.SignRequest{}).Where("document_id = ?", doc.ID).Count(&requests).Error)
	require.NoError(t, database.Model(&models.DocumentFile{}).Where("document_id = ?", doc.ID).Count(&files).Error)
	assert.Zero(t, requests)
	assert.Zero(t, files)

	_, err = svc.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, workflow.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteDocument(ctx, doc.ID), workflow.ErrNotFound)
}
