package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func newTestCatalog() *Service {
	return NewService(NewMemoryStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCatalog_CreateAndGet(t *testing.T) {
	svc := newTestCatalog()
	ctx := context.Background()

	pkg, err := svc.Create(ctx, &Package{Name: "Starter", Points: 50, Price: 75000})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if pkg.ID == "" || !pkg.Active {
		t.Errorf("Expected generated ID and active package: %+v", pkg)
	}

	got, err := svc.Get(ctx, pkg.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "Starter" || got.Points != 50 {
		t.Errorf("Unexpected package: %+v", got)
	}
}

func TestCatalog_CreateValidation(t *testing.T) {
	svc := newTestCatalog()
	ctx := context.Background()

	cases := []Package{
		{Points: 50, Price: 1000},                                // no name
		{Name: "X", Points: 0, Price: 1000},                      // no points
		{Name: "X", Points: 50, Price: 0},                        // no price
		{Name: "X", Points: 50, BonusPoints: -1, Price: 1000},    // negative bonus
	}
	for _, pkg := range cases {
		if _, err := svc.Create(ctx, &pkg); !errors.Is(err, ErrInvalidPackage) {
			t.Errorf("Expected ErrInvalidPackage for %+v, got %v", pkg, err)
		}
	}
}

func TestCatalog_DeactivateHidesFromActiveList(t *testing.T) {
	svc := newTestCatalog()
	ctx := context.Background()

	a, _ := svc.Create(ctx, &Package{Name: "A", Points: 50, Price: 75000})
	svc.Create(ctx, &Package{Name: "B", Points: 100, Price: 140000})

	if _, err := svc.Deactivate(ctx, a.ID); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}

	active, _ := svc.List(ctx, true)
	if len(active) != 1 || active[0].Name != "B" {
		t.Errorf("Expected only B active, got %+v", active)
	}
	all, _ := svc.List(ctx, false)
	if len(all) != 2 {
		t.Errorf("Expected 2 packages in full list, got %d", len(all))
	}

	// Purchase-path lookup still resolves retired packages, marked inactive.
	pp, err := svc.GetPackage(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetPackage failed: %v", err)
	}
	if pp.Active {
		t.Error("Retired package should report inactive")
	}
}

func TestCatalog_GetPackage_TotalsBonus(t *testing.T) {
	svc := newTestCatalog()
	ctx := context.Background()

	created, _ := svc.Create(ctx, &Package{Name: "Promo", Points: 200, BonusPoints: 50, Price: 250000})
	pp, err := svc.GetPackage(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetPackage failed: %v", err)
	}
	if pp.Points != 200 || pp.BonusPoints != 50 {
		t.Errorf("Bonus points lost in adaptation: %+v", pp)
	}
}
