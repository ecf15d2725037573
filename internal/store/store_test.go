package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "Alice", "female", 34, "ExponentPushToken[alice]")
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, "female", got.Gender)
	assert.Equal(t, 34, got.Age)
	assert.Equal(t, "ExponentPushToken[alice]", got.PushToken)
}

func TestCreateUserRejectsDuplicateToken(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, "Alice", "female", 34, "ExponentPushToken[shared]")
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, "Bob", "male", 41, "ExponentPushToken[shared]")
	require.ErrorIs(t, err, ErrTokenInUse)

	// The rejected insert must not leave a token-less row behind.
	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestGetUserNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetUser(context.Background(), "9f9d5f4e-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateToken(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "Bob", "male", 41, "")
	require.NoError(t, err)

	require.NoError(t, s.UpdateToken(ctx, u.ID, "ExponentPushToken[abc]"))

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "ExponentPushToken[abc]", got.PushToken)

	// Empty token deregisters the device.
	require.NoError(t, s.UpdateToken(ctx, u.ID, ""))
	got, err = s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, got.PushToken)
}

func TestUpdateTokenUnknownUser(t *testing.T) {
	s := openTestStore(t)

	err := s.UpdateToken(context.Background(), "missing", "ExponentPushToken[abc]")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateTokenRejectsDuplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.CreateUser(ctx, "Alice", "female", 34, "")
	require.NoError(t, err)
	b, err := s.CreateUser(ctx, "Bob", "male", 41, "")
	require.NoError(t, err)

	require.NoError(t, s.UpdateToken(ctx, a.ID, "ExponentPushToken[shared]"))
	err = s.UpdateToken(ctx, b.ID, "ExponentPushToken[shared]")
	require.ErrorIs(t, err, ErrTokenInUse)

	// Both users may be tokenless at the same time.
	require.NoError(t, s.UpdateToken(ctx, a.ID, ""))
	require.NoError(t, s.UpdateToken(ctx, b.ID, ""))
}

func TestAlertTargetProjection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "Carol", "female", 29, "")
	require.NoError(t, err)
	require.NoError(t, s.UpdateToken(ctx, u.ID, "ExponentPushToken[carol]"))

	target, err := s.AlertTarget(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Carol", target.Name)
	assert.Equal(t, "ExponentPushToken[carol]", target.PushToken)

	_, err = s.AlertTarget(ctx, "missing")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestClearToken(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "Dave", "male", 52, "")
	require.NoError(t, err)
	require.NoError(t, s.UpdateToken(ctx, u.ID, "ExponentPushToken[stale]"))

	require.NoError(t, s.ClearToken(ctx, "ExponentPushToken[stale]"))

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, got.PushToken)

	// Unknown and empty tokens are no-ops.
	require.NoError(t, s.ClearToken(ctx, "ExponentPushToken[unknown]"))
	require.NoError(t, s.ClearToken(ctx, ""))
}

func TestSleepRecords(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "Erin", "female", 38, "")
	require.NoError(t, err)

	night1 := time.Date(2026, 8, 25, 23, 0, 0, 0, time.UTC)
	night2 := night1.Add(24 * time.Hour)

	_, err = s.AddSleepRecord(ctx, SleepRecord{
		UserID:          u.ID,
		RemPercentage:   22.5,
		DeepPercentage:  18.0,
		LightPercentage: 59.5,
		TotalHours:      7.2,
		TimeOfSleep:     night1,
	})
	require.NoError(t, err)

	rec2, err := s.AddSleepRecord(ctx, SleepRecord{
		UserID:          u.ID,
		RemPercentage:   25.0,
		DeepPercentage:  20.0,
		LightPercentage: 55.0,
		TotalHours:      6.8,
		TimeOfSleep:     night2,
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec2.ID)

	records, err := s.ListSleepRecords(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, night2, records[0].TimeOfSleep, "records are newest first")
	assert.Equal(t, 22.5, records[1].RemPercentage)
}

func TestSleepRecordsUnknownUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.AddSleepRecord(ctx, SleepRecord{UserID: "missing", TimeOfSleep: time.Now()})
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = s.ListSleepRecords(ctx, "missing")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestListSleepRecordsEmpty(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "Frank", "male", 45, "")
	require.NoError(t, err)

	records, err := s.ListSleepRecords(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}
