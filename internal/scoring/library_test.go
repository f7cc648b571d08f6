package scoring_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"tower/internal/jobs"
	"tower/internal/scoring"
	"tower/internal/testsupport"
)

func newLibrary(t *testing.T, capacity int) *scoring.Library {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	library, err := scoring.NewLibrary(store, capacity)
	if err != nil {
		t.Fatalf("NewLibrary failed: %v", err)
	}
	return library
}

func faceRef(characterID string, quality float64, seed int64) *jobs.CharacterReference {
	return &jobs.CharacterReference{
		CharacterID: characterID,
		Modality:    jobs.ModalityFace,
		AssetRef:    fmt.Sprintf("assets/%s-%d.png", characterID, seed),
		Quality:     quality,
		Embedding:   testsupport.Embedding(16, seed),
	}
}

func TestLibraryAdmitsUnderCapacity(t *testing.T) {
	library := newLibrary(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		added, err := library.Admit(ctx, faceRef("kai", 0.5, int64(i)))
		if err != nil {
			t.Fatalf("Admit %d failed: %v", i, err)
		}
		if !added {
			t.Fatalf("expected admission %d under capacity", i)
		}
	}

	count, err := library.Count(ctx, "kai", jobs.ModalityFace)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 references, got %d", count)
	}
}

func TestLibraryNormalizesCharacterID(t *testing.T) {
	library := newLibrary(t, 5)
	ctx := context.Background()

	if _, err := library.Admit(ctx, faceRef("Kai", 0.5, 1)); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if _, err := library.Admit(ctx, faceRef("KAI", 0.6, 2)); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}

	refs, err := library.References(ctx, "kai", jobs.ModalityFace)
	if err != nil {
		t.Fatalf("References failed: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected both spellings in one set, got %d", len(refs))
	}
	for _, ref := range refs {
		if ref.CharacterID != "kai" {
			t.Fatalf("expected normalized id, got %q", ref.CharacterID)
		}
	}
}

func TestLibraryCapNeverExceeded(t *testing.T) {
	library := newLibrary(t, 4)
	ctx := context.Background()

	// Offer far more candidates than the cap, mixed qualities.
	for i := 0; i < 20; i++ {
		quality := 0.2 + float64(i%10)*0.07
		if _, err := library.Admit(ctx, faceRef("kai", quality, int64(i))); err != nil {
			t.Fatalf("Admit %d failed: %v", i, err)
		}
		count, err := library.Count(ctx, "kai", jobs.ModalityFace)
		if err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if count > 4 {
			t.Fatalf("cap exceeded after admission %d: %d", i, count)
		}
	}
}

func TestLibraryEvictsOnlyForHigherQuality(t *testing.T) {
	library := newLibrary(t, 2)
	ctx := context.Background()

	if _, err := library.Admit(ctx, faceRef("kai", 0.5, 1)); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if _, err := library.Admit(ctx, faceRef("kai", 0.7, 2)); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}

	// Equal quality does not displace an existing member.
	added, err := library.Admit(ctx, faceRef("kai", 0.5, 3))
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if added {
		t.Fatal("expected equal-quality candidate to be dropped")
	}

	added, err = library.Admit(ctx, faceRef("kai", 0.9, 4))
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if !added {
		t.Fatal("expected higher-quality candidate to evict the lowest")
	}

	refs, err := library.References(ctx, "kai", jobs.ModalityFace)
	if err != nil {
		t.Fatalf("References failed: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected set size 2, got %d", len(refs))
	}
	if refs[0].Quality != 0.9 || refs[1].Quality != 0.7 {
		t.Fatalf("expected qualities [0.9 0.7], got [%g %g]", refs[0].Quality, refs[1].Quality)
	}
}

func TestLibraryConcurrentAdmissions(t *testing.T) {
	library := newLibrary(t, 3)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			ref := faceRef("kai", 0.3+float64(seed)*0.05, seed)
			if _, err := library.Admit(ctx, ref); err != nil {
				t.Errorf("Admit failed: %v", err)
			}
		}(int64(i))
	}
	wg.Wait()

	count, err := library.Count(ctx, "kai", jobs.ModalityFace)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count > 3 {
		t.Fatalf("concurrent admissions overshot the cap: %d", count)
	}
}

func TestLibraryRejectsInvalidCandidates(t *testing.T) {
	library := newLibrary(t, 3)
	ctx := context.Background()

	if _, err := library.Admit(ctx, nil); err == nil {
		t.Fatal("expected error for nil reference")
	}

	blank := faceRef("   ", 0.5, 1)
	if _, err := library.Admit(ctx, blank); err == nil {
		t.Fatal("expected error for blank character id")
	}

	empty := faceRef("kai", 0.5, 1)
	empty.Embedding = nil
	if _, err := library.Admit(ctx, empty); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}
