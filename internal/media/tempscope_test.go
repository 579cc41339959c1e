package media

import (
	"os"
	"sync"
	"testing"
)

func TestTempScopeCleanup(t *testing.T) {
	scope := NewTempScope(t.TempDir())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := scope.Create("holo-*.tmp")
			if err != nil {
				t.Error(err)
				return
			}
			f.Close()
		}()
	}
	wg.Wait()

	reserved, err := scope.Path("holo-out-*.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(reserved); !os.IsNotExist(err) {
		t.Errorf("Path() left a file behind: %v", err)
	}

	paths := scope.Paths()
	if len(paths) != 9 {
		t.Fatalf("tracked %d paths, want 9", len(paths))
	}
	if err := scope.Cleanup(); err != nil {
		t.Fatalf("Cleanup() = %v", err)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s survived Cleanup", p)
		}
	}
	if len(scope.Paths()) != 0 {
		t.Error("scope not empty after Cleanup")
	}
}
