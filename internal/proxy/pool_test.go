package proxy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func writeReserveFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reserve_proxy.txt")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenPoolMissingFile(t *testing.T) {
	p, err := OpenPool(filepath.Join(t.TempDir(), "absent.txt"))
	if err != nil {
		t.Fatalf("OpenPool on missing file: %v", err)
	}
	if p.Len() != 0 {
		t.Fatalf("pool size = %d, want 0", p.Len())
	}
	if _, ok := p.Acquire(); ok {
		t.Fatal("Acquire succeeded on an empty pool")
	}
}

func TestAcquireDrainsWithoutDuplicates(t *testing.T) {
	path := writeReserveFile(t, "proxy-a", "proxy-b", "proxy-c")
	p, err := OpenPool(path)
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		proxy, ok := p.Acquire()
		if !ok {
			t.Fatalf("Acquire %d failed with credentials remaining", i)
		}
		if seen[proxy] {
			t.Fatalf("credential %q issued twice", proxy)
		}
		seen[proxy] = true
	}
	if _, ok := p.Acquire(); ok {
		t.Fatal("Acquire succeeded after the pool drained")
	}
}

func TestAcquirePersistsShrunkReserve(t *testing.T) {
	path := writeReserveFile(t, "proxy-a", "proxy-b")
	p, err := OpenPool(path)
	if err != nil {
		t.Fatal(err)
	}

	picked, ok := p.Acquire()
	if !ok {
		t.Fatal("Acquire failed")
	}

	// A restart must not re-issue the acquired credential.
	reloaded, err := OpenPool(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Len() != 1 {
		t.Fatalf("reloaded pool size = %d, want 1", reloaded.Len())
	}
	remaining, _ := reloaded.Acquire()
	if remaining == picked {
		t.Fatalf("credential %q survived acquisition", picked)
	}
}

func TestAcquireConcurrentNoDoubleIssue(t *testing.T) {
	lines := make([]string, 20)
	for i := range lines {
		lines[i] = fmt.Sprintf("proxy-%02d", i)
	}
	p, err := OpenPool(writeReserveFile(t, lines...))
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if proxy, ok := p.Acquire(); ok {
				mu.Lock()
				seen[proxy]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 20 {
		t.Fatalf("issued %d distinct credentials, want all 20", len(seen))
	}
	for proxy, count := range seen {
		if count != 1 {
			t.Errorf("credential %q issued %d times", proxy, count)
		}
	}
}

func TestOpenPoolSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reserve_proxy.txt")
	if err := os.WriteFile(path, []byte("proxy-a\n\n  \nproxy-b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := OpenPool(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Len() != 2 {
		t.Fatalf("pool size = %d, want 2", p.Len())
	}
}
