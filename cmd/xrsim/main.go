package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"xrsim/internal/system"
)

func main() {
	verbose := flag.Bool("v", false, "enable verbose logging")
	cpus := flag.Int("cpus", 1, "number of CPU cores (max 8)")
	memoryFlag := flag.Uint64("memory", 64<<20, "RAM size in bytes")
	romPath := flag.String("rom", "", "boot ROM image path")
	console := flag.Bool("console", false, "capture the host terminal for the keyboard device")
	flag.Parse()

	printIfVerbose(*verbose, "Starting LIMNstation...")

	var rom []byte
	if *romPath != "" {
		var err error
		rom, err = os.ReadFile(*romPath)
		if err != nil {
			log.Fatalf("failed to read boot ROM %q: %v", *romPath, err)
		}
	}

	printIfVerbose(*verbose, "Allocating %d bytes of RAM across %d CPUs...", *memoryFlag, *cpus)

	sys := system.New(system.Config{
		CPUCount:   *cpus,
		MemorySize: int(*memoryFlag),
		BootROM:    rom,
		Console:    *console,
	})

	if *console {
		fd := int(os.Stdin.Fd())
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			log.Fatalf("failed to enter raw mode: %v", err)
		}
		defer term.Restore(fd, oldState)

		sys.Keyboard.Run()
		defer sys.Keyboard.Close()
	}

	sys.Start()
	defer sys.Stop()

	printIfVerbose(*verbose, "Resetting system...")
	sys.Reset()

	printIfVerbose(*verbose, "Running...")
	start := time.Now()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	runTicks(sys, sigCh)

	elapsed := time.Since(start)
	printIfVerbose(*verbose, "Stopped after %s.", elapsed)
}

// runTicks drives the wall-clock tick loop at system.TicksPerSecond until
// a signal arrives, mirroring main.c's SDL_GetTicks-based frame timer
// without the SDL render/event pump it also owned.
func runTicks(sys *system.System, sigCh <-chan os.Signal) {
	interval := time.Second / system.TicksPerSecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-sigCh:
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Milliseconds()
			last = now
			sys.Tick(int(dt))
		}
	}
}

func printIfVerbose(verbose bool, format string, v ...interface{}) {
	if verbose {
		log.Printf(format, v...)
	}
}
