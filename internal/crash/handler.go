package crash

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"tg-postplanner/internal/logger"
)

// ReportPanic logs a recovered value with the current stack and runtime stats.
// Callers that need to act on the panic themselves recover first and call this.
func ReportPanic(moduleName string, r interface{}) {
	stack := debug.Stack()

	logger.Errorf("PANIC in %s: %v", moduleName, r)
	logger.Errorf("Stack trace:\n%s", string(stack))

	// stderr as well, so container logs show it even if file logging is broken
	fmt.Fprintf(os.Stderr, "[PANIC] %s - %s: %v\n", time.Now().Format("2006-01-02 15:04:05"), moduleName, r)

	logRuntimeInfo()
}

// RecoverWithStack recovers a panic in the calling goroutine and logs it.
// Must be deferred directly.
func RecoverWithStack(moduleName string) {
	if r := recover(); r != nil {
		ReportPanic(moduleName, r)
	}
}

// RecoverWithStackAndExit is the main-goroutine variant: log, flush, exit non-zero.
func RecoverWithStackAndExit(moduleName string) {
	if r := recover(); r != nil {
		ReportPanic("FATAL "+moduleName, r)

		// give the rotating writer a moment to hit the disk
		time.Sleep(1 * time.Second)

		os.Exit(1)
	}
}

// SafeGoroutine starts fn in a goroutine that cannot take the process down.
func SafeGoroutine(name string, fn func()) {
	go func() {
		defer RecoverWithStack(fmt.Sprintf("goroutine-%s", name))
		fn()
	}()
}

func logRuntimeInfo() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	logger.Errorf("runtime: go=%s cpus=%d goroutines=%d heap_alloc=%dKB heap_inuse=%dKB stack_inuse=%dKB num_gc=%d",
		runtime.Version(),
		runtime.NumCPU(),
		runtime.NumGoroutine(),
		bToKb(m.HeapAlloc),
		bToKb(m.HeapInuse),
		bToKb(m.StackInuse),
		m.NumGC,
	)
}

func bToKb(b uint64) uint64 {
	return b / 1024
}

// SetupCrashHandler turns faults on unexpected addresses into recoverable panics.
func SetupCrashHandler() {
	debug.SetPanicOnFault(true)
}
