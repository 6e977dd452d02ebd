package cache

import (
	"context"
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"
)

// A mixed workload of concurrent Get/AddItem/Remove/Sweep on random keys
// with a short MaxAge so sweeps and rebuilds run constantly.
// Should pass under `-race` without detector reports.
func TestRace_Basic(t *testing.T) {
	load := func(_ context.Context, id int) (*contract, error) {
		return &contract{ID: id, Name: "n:" + strconv.Itoa(id)}, nil
	}
	c, ids, names := newContracts(t, Options[contract]{
		Capacity: 512,
		MaxAge:   50 * time.Millisecond,
	}, load)

	workers := 4 * runtime.GOMAXPROCS(0)
	keyspace := 5_000
	deadline := time.Now().Add(2 * time.Second)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			ctx := context.Background()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*9973))
			for time.Now().Before(deadline) {
				k := r.Intn(keyspace)
				switch r.Intn(100) {
				case 0, 1, 2, 3, 4: // ~5%: Remove
					_, _ = names.Remove("n:" + strconv.Itoa(k))
				case 5, 6, 7, 8, 9: // ~5%: AddItem
					_ = c.AddItem(&contract{ID: k, Name: "n:" + strconv.Itoa(k)})
				case 10: // ~1%: forced sweep
					_ = c.Sweep()
				default: // ~89%: Get (loads on miss)
					v, ok, err := ids.Get(ctx, k)
					if err != nil {
						t.Errorf("Get: %v", err)
						return
					}
					if ok && v.ID != k {
						t.Errorf("Get(%d) returned item for %d", k, v.ID)
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()

	if st := c.Stats(); st.Live < 0 || st.Total < st.Live {
		t.Fatalf("counters out of range: %+v", st)
	}
}

// Indexes added and cleared while traffic is running.
func TestRace_IndexLifecycle(t *testing.T) {
	c, ids, _ := newContracts(t, Options[contract]{Capacity: 256}, nil)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			_ = c.AddItem(&contract{ID: i % 1000, Name: strconv.Itoa(i)})
			_, _, _ = ids.Get(context.Background(), i%1000)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%10 == 0 {
				_ = c.Clear()
			}
			_, _ = ids.Rebuild()
		}
	}()

	for i := 0; i < 20; i++ {
		if _, err := AddIndex(c, "extra"+strconv.Itoa(i), func(x *contract) int { return x.ID * 2 }, nil); err != nil {
			t.Fatalf("AddIndex: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(stop)
	wg.Wait()

	if got := len(c.Stats().Indexes); got != 22 {
		t.Fatalf("indexes = %d, want 22", got)
	}
}
