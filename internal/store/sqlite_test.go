package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUserRoundTrip(t *testing.T) {
	s := newTestStore(t)

	missing, err := s.GetUserByExternalID("nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	created, err := s.CreateUser("trader1", "hashed-password")
	require.NoError(t, err)
	assert.Equal(t, "trader1", created.ExternalUserID)

	found, err := s.GetUserByExternalID("trader1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "hashed-password", found.PasswordHash)
}

func TestCurrentConversationIDPerUser(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CurrentConversationID("trader1")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, s.SetCurrentConversationID("trader1", "conv-a"))
	require.NoError(t, s.SetCurrentConversationID("trader2", "conv-b"))

	id, err = s.CurrentConversationID("trader1")
	require.NoError(t, err)
	assert.Equal(t, "conv-a", id)

	// Overwrite sticks.
	require.NoError(t, s.SetCurrentConversationID("trader1", "conv-c"))
	id, err = s.CurrentConversationID("trader1")
	require.NoError(t, err)
	assert.Equal(t, "conv-c", id)

	id, err = s.CurrentConversationID("trader2")
	require.NoError(t, err)
	assert.Equal(t, "conv-b", id)
}

func feedbackFixture(queryID, feedbackType string) *FeedbackRecord {
	convID := "conv-1"
	return &FeedbackRecord{
		QueryID:        queryID,
		FeedbackType:   feedbackType,
		OriginalText:   "show spot trades",
		GeneratedQuery: "select from trade where date=.z.d",
		ConversationID: &convID,
		UserID:         "trader1",
		Timestamp:      time.Now(),
	}
}

func TestFeedbackLookup(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.GetFeedback("q1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, s.RecordFeedback(feedbackFixture("q1", "positive")))

	rec, err = s.GetFeedback("q1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "positive", rec.FeedbackType)
	require.NotNil(t, rec.ConversationID)
	assert.Equal(t, "conv-1", *rec.ConversationID)
	assert.False(t, rec.Synced)

	// Duplicate votes violate the primary key.
	assert.Error(t, s.RecordFeedback(feedbackFixture("q1", "negative")))
}

func TestPendingQueueOrderAndDequeue(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.RecordFeedback(feedbackFixture("q1", "positive")))
	require.NoError(t, s.RecordFeedback(feedbackFixture("q2", "negative")))
	require.NoError(t, s.RecordFeedback(feedbackFixture("q3", "positive")))

	count, err := s.PendingFeedbackCount()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	head, err := s.OldestPending()
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "q1", head.QueryID)

	require.NoError(t, s.MarkFeedbackSynced("q1"))

	head, err = s.OldestPending()
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "q2", head.QueryID)

	count, err = s.PendingFeedbackCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Synced entries leave the queue but stay in the lookup.
	rec, err := s.GetFeedback("q1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Synced)
}

func TestMarkSyncedUnknownQuery(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.MarkFeedbackSynced("missing"))
}

func TestStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SetCurrentConversationID("trader1", "conv-a"))
	require.NoError(t, s.RecordFeedback(feedbackFixture("q1", "positive")))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	id, err := reopened.CurrentConversationID("trader1")
	require.NoError(t, err)
	assert.Equal(t, "conv-a", id)

	count, err := reopened.PendingFeedbackCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
