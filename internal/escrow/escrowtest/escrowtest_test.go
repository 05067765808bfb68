package escrowtest

import (
	"context"
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"wager-engine/internal/escrow"
)

// TestConservationProperty checks that after any sequence of transfers every
// item still has exactly one owner and no item appears or disappears.
func TestConservationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		f := New()
		users := []string{"u1", "u2", "u3"}
		var all []string
		for i, u := range users {
			for j := 0; j < 3; j++ {
				id := fmt.Sprintf("i%d%d", i, j)
				f.Give(u, id)
				all = append(all, id)
			}
		}

		steps := rapid.IntRange(1, 25).Draw(t, "steps")
		for s := 0; s < steps; s++ {
			a := rapid.SampledFrom(users).Draw(t, "a")
			b := rapid.SampledFrom(users).Draw(t, "b")
			entries := []escrow.Entry{{UserID: a, AssetIDs: f.Items(a)}}
			if a != b {
				entries = append(entries, escrow.Entry{UserID: b, AssetIDs: f.Items(b)})
			}
			id, err := f.Create(ctx, entries)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			switch rapid.IntRange(0, 2).Draw(t, "action") {
			case 0:
				_ = f.Confirm(ctx, id, rapid.SampledFrom(users).Draw(t, "target"))
			case 1:
				_ = f.ConfirmSwap(ctx, id)
			case 2:
				_ = f.Cancel(ctx, id, "test")
			}
		}

		count := 0
		for _, u := range users {
			count += len(f.Items(u))
		}
		if count != len(all) {
			t.Fatalf("items not conserved: %d of %d", count, len(all))
		}
		for _, id := range all {
			if f.Owner(id) == "" {
				t.Fatalf("item %s lost its owner", id)
			}
		}
	})
}
