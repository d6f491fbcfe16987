// internal/services/character_service_test.go
package services

import (
	"bytes"
	"context"
	"testing"
	"time"

	apperrors "github.com/Corphon/ScreenplayStudio/internal/errors"
	"github.com/Corphon/ScreenplayStudio/internal/models"
	"github.com/Corphon/ScreenplayStudio/internal/storage"
	"github.com/Corphon/ScreenplayStudio/internal/utils"
)

func newCharacterService(t *testing.T) *CharacterService {
	t.Helper()
	store, err := storage.OpenSQLite(t.TempDir() + "/studio.db")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := utils.NewLogger(&bytes.Buffer{})
	return NewCharacterService(store, utils.NewAPIMetricsWith(utils.NewMetricsCollector(), logger), logger)
}

func TestCharacterCRUD(t *testing.T) {
	s := newCharacterService(t)
	ctx := context.Background()

	if _, err := s.CreateCharacter(ctx, "p1", models.CharacterInput{Name: strPtr("   ")}); !apperrors.IsValidationError(err) {
		t.Fatalf("blank name err = %v", err)
	}

	age := 36
	c, err := s.CreateCharacter(ctx, "p1", models.CharacterInput{
		Name:     strPtr("  Ada "),
		FullName: strPtr("Ada Lovelace"),
		Age:      &age,
	})
	if err != nil {
		t.Fatalf("CreateCharacter: %v", err)
	}
	if c.ID == "" || c.Name != "Ada" || c.FullName != "Ada Lovelace" || c.Age != 36 {
		t.Fatalf("created = %+v", c)
	}
	if c.CreatedAt.IsZero() {
		t.Fatalf("created_at not set")
	}

	updated, err := s.UpdateCharacter(ctx, "p1", c.ID, models.CharacterInput{Notes: strPtr("mathematician")})
	if err != nil {
		t.Fatalf("UpdateCharacter: %v", err)
	}
	if updated.Notes != "mathematician" || updated.Name != "Ada" {
		t.Fatalf("updated = %+v", updated)
	}
	if _, err := s.UpdateCharacter(ctx, "p1", c.ID, models.CharacterInput{Name: strPtr("")}); !apperrors.IsValidationError(err) {
		t.Fatalf("blank rename err = %v", err)
	}
	if _, err := s.UpdateCharacter(ctx, "p1", c.ID, models.CharacterInput{}); !apperrors.IsValidationError(err) {
		t.Fatalf("empty update err = %v", err)
	}

	if err := s.DeleteCharacter(ctx, "p1", c.ID); err != nil {
		t.Fatalf("DeleteCharacter: %v", err)
	}
	if _, err := s.GetCharacter(ctx, "p1", c.ID); !apperrors.IsNotFoundError(err) {
		t.Fatalf("get deleted err = %v", err)
	}
	if err := s.DeleteCharacter(ctx, "p1", c.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := s.UpdateCharacter(ctx, "p1", c.ID, models.CharacterInput{Notes: strPtr("x")}); !apperrors.IsNotFoundError(err) {
		t.Fatalf("update deleted err = %v", err)
	}
}

func TestListCharactersSortedByName(t *testing.T) {
	s := newCharacterService(t)
	ctx := context.Background()

	for _, name := range []string{"zed", "Bob", "ada", "Carl"} {
		if _, err := s.CreateCharacter(ctx, "p1", models.CharacterInput{Name: strPtr(name)}); err != nil {
			t.Fatalf("CreateCharacter(%s): %v", name, err)
		}
	}
	if _, err := s.CreateCharacter(ctx, "p2", models.CharacterInput{Name: strPtr("Other")}); err != nil {
		t.Fatalf("CreateCharacter: %v", err)
	}

	chars, err := s.ListCharacters(ctx, "p1")
	if err != nil {
		t.Fatalf("ListCharacters: %v", err)
	}
	want := []string{"ada", "Bob", "Carl", "zed"}
	if len(chars) != len(want) {
		t.Fatalf("got %d characters", len(chars))
	}
	for i, name := range want {
		if chars[i].Name != name {
			t.Fatalf("position %d = %s, want %s", i, chars[i].Name, name)
		}
	}

	if _, err := s.ListCharacters(ctx, "bad/id"); !apperrors.IsValidationError(err) {
		t.Fatalf("bad project err = %v", err)
	}
}

func TestWatchCharacters(t *testing.T) {
	s := newCharacterService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.WatchCharacters(ctx, "p1")
	if err != nil {
		t.Fatalf("WatchCharacters: %v", err)
	}

	select {
	case u := <-ch:
		if u.Err != nil || len(u.Characters) != 0 {
			t.Fatalf("initial update = %+v", u)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no initial update")
	}

	if _, err := s.CreateCharacter(context.Background(), "p1", models.CharacterInput{Name: strPtr("Ada")}); err != nil {
		t.Fatalf("CreateCharacter: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case u := <-ch:
			if u.Err != nil {
				t.Fatalf("update err: %v", u.Err)
			}
			if len(u.Characters) == 1 && u.Characters[0].Name == "Ada" {
				return
			}
		case <-deadline:
			t.Fatalf("no update after create")
		}
	}
}

func TestLockManagerSerializes(t *testing.T) {
	lm := NewLockManager()
	defer lm.Stop()

	var active, maxActive int
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			_ = lm.ExecuteWithLock("k", func() error {
				active++
				if active > maxActive {
					maxActive = active
				}
				time.Sleep(time.Millisecond)
				active--
				return nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	if maxActive != 1 {
		t.Fatalf("max concurrent holders = %d", maxActive)
	}

	if err := lm.ExecuteWithReadLock("k", func() error { return nil }); err != nil {
		t.Fatalf("ExecuteWithReadLock: %v", err)
	}
	if lm.Size() != 1 {
		t.Fatalf("Size = %d", lm.Size())
	}
}

func TestLockManagerCleanupKeepsHeldLocks(t *testing.T) {
	lm := NewLockManager()
	defer lm.Stop()
	lm.maxLocks = 0

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = lm.ExecuteWithLock("busy", func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	_ = lm.ExecuteWithLock("idle", func() error { return nil })

	lm.cleanupUnusedLocks(time.Now().Add(time.Hour))
	close(release)

	lm.globalLock.Lock()
	_, busy := lm.locks["busy"]
	_, idle := lm.locks["idle"]
	lm.globalLock.Unlock()
	if !busy || idle {
		t.Fatalf("busy kept = %v, idle kept = %v", busy, idle)
	}
}
