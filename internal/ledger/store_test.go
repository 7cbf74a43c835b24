package ledger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
)

func sampleSnapshot(profile string) *schema.Snapshot {
	now := time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)
	return &schema.Snapshot{
		Version: schema.SnapshotVersion,
		Profile: profile,
		SavedAt: now,
		Wallet: &schema.Wallet{
			Currency:     "USDT",
			Balance:      decimal.RequireFromString("9995.5"),
			LockedMargin: decimal.RequireFromString("1000"),
			UpdatedAt:    now,
		},
		Positions: []*schema.Position{{
			ID:            "paper_pos_000000000001",
			Symbol:        "BTCUSDT",
			Side:          schema.SideLong,
			Quantity:      decimal.RequireFromString("0.1"),
			EntryPrice:    decimal.RequireFromString("100000"),
			Leverage:      10,
			Margin:        decimal.RequireFromString("1000"),
			Status:        schema.PositionStatusOpen,
			LastFundingAt: now,
			OpenedAt:      now,
			UpdatedAt:     now,
		}},
		Orders: []*schema.Order{{
			ID:         "paper_ord_000000000001",
			Symbol:     "BTCUSDT",
			Side:       schema.SideLong,
			Type:       schema.OrderTypeLimit,
			Quantity:   decimal.RequireFromString("0.05"),
			LimitPrice: decimal.RequireFromString("95000"),
			Leverage:   10,
			Status:     schema.OrderStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
			ExpiresAt:  now.Add(24 * time.Hour),
		}},
		Trades: []*schema.TradeRecord{{
			ID:         "paper_trd_000000000001",
			PositionID: "paper_pos_000000000001",
			Symbol:     "BTCUSDT",
			Side:       schema.SideLong,
			Action:     schema.TradeActionOpen,
			Quantity:   decimal.RequireFromString("0.1"),
			Price:      decimal.RequireFromString("100000"),
			Fee:        decimal.RequireFromString("5"),
			Timestamp:  now,
		}},
	}
}

func roundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	snap := sampleSnapshot("alice")

	require.NoError(t, s.Save(ctx, snap))

	got, err := s.Load(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, got.Validate())

	assert.Equal(t, snap.Profile, got.Profile)
	assert.True(t, got.Wallet.Balance.Equal(snap.Wallet.Balance))
	assert.True(t, got.Wallet.LockedMargin.Equal(snap.Wallet.LockedMargin))

	require.Len(t, got.Positions, 1)
	assert.True(t, got.Positions[0].EntryPrice.Equal(snap.Positions[0].EntryPrice))
	assert.Equal(t, snap.Positions[0].LastFundingAt.Unix(), got.Positions[0].LastFundingAt.Unix())

	require.Len(t, got.Orders, 1)
	assert.Equal(t, schema.OrderStatusPending, got.Orders[0].Status)

	require.Len(t, got.Trades, 1)
	assert.True(t, got.Trades[0].Fee.Equal(decimal.RequireFromString("5")))
}

func TestMemoryRoundTrip(t *testing.T) {
	roundTrip(t, NewMemory())
}

func TestFileRoundTrip(t *testing.T) {
	s, err := NewFile(t.TempDir())
	require.NoError(t, err)
	roundTrip(t, s)
}

func TestMemoryIsolatesStoredState(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	snap := sampleSnapshot("alice")
	require.NoError(t, s.Save(ctx, snap))

	// Mutating the original must not leak into the store.
	snap.Wallet.Balance = decimal.Zero

	got, err := s.Load(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, got.Wallet.Balance.Equal(decimal.RequireFromString("9995.5")))
}

func TestLoadMissingProfile(t *testing.T) {
	ctx := context.Background()

	_, err := NewMemory().Load(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	f, ferr := NewFile(t.TempDir())
	require.NoError(t, ferr)
	_, err = f.Load(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAndProfiles(t *testing.T) {
	ctx := context.Background()
	s, err := NewFile(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, sampleSnapshot("alice")))
	require.NoError(t, s.Save(ctx, sampleSnapshot("bob")))

	profiles, err := s.Profiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, profiles)

	require.NoError(t, s.Delete(ctx, "alice"))
	require.NoError(t, s.Delete(ctx, "alice"), "idempotent delete")

	profiles, err = s.Profiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, profiles)
}

func TestFileWritesDecimalsAsStrings(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, sampleSnapshot("alice")))

	data, err := os.ReadFile(filepath.Join(dir, "alice.json"))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	wallet := raw["wallet"].(map[string]any)
	_, isString := wallet["balance"].(string)
	assert.True(t, isString, "balance should serialize as a string")
}

func TestFileSaveReplacesExisting(t *testing.T) {
	ctx := context.Background()
	s, err := NewFile(t.TempDir())
	require.NoError(t, err)

	snap := sampleSnapshot("alice")
	require.NoError(t, s.Save(ctx, snap))

	snap.Wallet.Balance = decimal.NewFromInt(1)
	require.NoError(t, s.Save(ctx, snap))

	got, err := s.Load(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, got.Wallet.Balance.Equal(decimal.NewFromInt(1)))
}
