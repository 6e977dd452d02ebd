package gate

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// Many readers may hold the gate at once; a writer must wait for all of them.
func TestGate_ReadersShareWriterExcludes(t *testing.T) {
	t.Parallel()

	g := New(50 * time.Millisecond)
	for i := 0; i < 3; i++ {
		if err := g.RLock(); err != nil {
			t.Fatalf("RLock %d: %v", i, err)
		}
	}
	if g.TryLock() {
		t.Fatal("TryLock must fail while readers hold the gate")
	}
	if err := g.Lock(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Lock with readers: want ErrTimeout, got %v", err)
	}
	for i := 0; i < 3; i++ {
		g.RUnlock()
	}
	if !g.TryLock() {
		t.Fatal("TryLock must succeed on a free gate")
	}
	if err := g.RLock(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("RLock under writer: want ErrTimeout, got %v", err)
	}
	g.Unlock()
}

// A blocked writer is woken as soon as the last reader leaves.
func TestGate_WriterWakesOnRelease(t *testing.T) {
	t.Parallel()

	g := New(2 * time.Second)
	if err := g.RLock(); err != nil {
		t.Fatal(err)
	}

	acquired := make(chan error, 1)
	go func() { acquired <- g.Lock() }()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("writer must not get in while a reader holds the gate")
	default:
	}

	g.RUnlock()
	if err := <-acquired; err != nil {
		t.Fatalf("writer: %v", err)
	}
	g.Unlock()
}

// A waiting writer blocks new readers (writer preference).
func TestGate_WaitingWriterBlocksNewReaders(t *testing.T) {
	t.Parallel()

	g := New(2 * time.Second)
	if err := g.RLock(); err != nil {
		t.Fatal(err)
	}

	writer := make(chan error, 1)
	go func() { writer <- g.Lock() }()
	time.Sleep(20 * time.Millisecond)

	reader := make(chan error, 1)
	go func() { reader <- g.RLock() }()
	time.Sleep(20 * time.Millisecond)

	select {
	case <-reader:
		t.Fatal("new reader must queue behind the waiting writer")
	default:
	}

	g.RUnlock()
	if err := <-writer; err != nil {
		t.Fatalf("writer: %v", err)
	}
	select {
	case <-reader:
		t.Fatal("reader must not enter while the writer holds the gate")
	default:
	}
	g.Unlock()
	if err := <-reader; err != nil {
		t.Fatalf("reader: %v", err)
	}
	g.RUnlock()
}

// Upgrade waits for the other readers, then holds the gate exclusively;
// Downgrade hands it back as a shared lock.
func TestGate_UpgradeDowngrade(t *testing.T) {
	t.Parallel()

	g := New(2 * time.Second)
	if err := g.RLock(); err != nil { // upgrader
		t.Fatal(err)
	}
	if err := g.RLock(); err != nil { // other reader
		t.Fatal(err)
	}

	var upgraded atomic.Bool
	var eg errgroup.Group
	eg.Go(func() error {
		if err := g.Upgrade(); err != nil {
			return err
		}
		upgraded.Store(true)
		g.Downgrade()
		g.RUnlock()
		return nil
	})

	time.Sleep(20 * time.Millisecond)
	if upgraded.Load() {
		t.Fatal("upgrade must wait for the other reader")
	}
	g.RUnlock()

	if err := eg.Wait(); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if !upgraded.Load() {
		t.Fatal("upgrade never happened")
	}
	if !g.TryLock() {
		t.Fatal("gate must be free after downgrade + RUnlock")
	}
	g.Unlock()
}

// Two readers upgrading at once would deadlock; the second must fail fast.
func TestGate_UpgradeConflict(t *testing.T) {
	t.Parallel()

	g := New(time.Second)
	if err := g.RLock(); err != nil {
		t.Fatal(err)
	}
	if err := g.RLock(); err != nil {
		t.Fatal(err)
	}

	first := make(chan error, 1)
	go func() { first <- g.Upgrade() }()
	time.Sleep(20 * time.Millisecond)

	err := g.Upgrade()
	if !errors.Is(err, ErrUpgradeConflict) || !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second upgrade: want ErrUpgradeConflict, got %v", err)
	}
	// The loser still owns its read lock; releasing it lets the first upgrade finish.
	g.RUnlock()
	if err := <-first; err != nil {
		t.Fatalf("first upgrade: %v", err)
	}
	g.Unlock()
}

func TestGate_UpgradeWithoutReadLock(t *testing.T) {
	t.Parallel()

	g := New(time.Second)
	if err := g.Upgrade(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("want ErrInvalidState, got %v", err)
	}
}

// A timed-out upgrade leaves the caller with its shared lock.
func TestGate_UpgradeTimeoutKeepsReadLock(t *testing.T) {
	t.Parallel()

	g := New(30 * time.Millisecond)
	if err := g.RLock(); err != nil {
		t.Fatal(err)
	}
	if err := g.RLock(); err != nil {
		t.Fatal(err)
	}
	if err := g.Upgrade(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
	g.RUnlock()
	g.RUnlock()
	if !g.TryLock() {
		t.Fatal("gate must be free")
	}
	g.Unlock()
}

func TestGate_UnlockUnlockedPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrInvalidState) {
			t.Fatalf("want ErrInvalidState panic, got %v", r)
		}
	}()
	New(time.Second).Unlock()
}

func TestGate_DefaultTimeout(t *testing.T) {
	t.Parallel()

	if got := New(0).Timeout(); got != DefaultTimeout {
		t.Fatalf("want %v, got %v", DefaultTimeout, got)
	}
}

// Mixed readers and writers under contention; a shared counter guarded by
// the gate must see every increment. Run with -race.
func TestGate_Contention(t *testing.T) {
	g := New(5 * time.Second)

	var counter int
	var eg errgroup.Group
	for w := 0; w < 8; w++ {
		eg.Go(func() error {
			for i := 0; i < 200; i++ {
				if err := g.Lock(); err != nil {
					return err
				}
				counter++
				g.Unlock()

				if err := g.RLock(); err != nil {
					return err
				}
				_ = counter
				g.RUnlock()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
	if counter != 8*200 {
		t.Fatalf("want %d, got %d", 8*200, counter)
	}
}
