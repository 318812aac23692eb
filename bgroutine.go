package main

import (
	"log"
	"runtime/debug"
	"sync"
)

// startBackgroundRoutine runs workfn until returned function is called,
// calling it signals workfn and waits for it to exit
func startBackgroundRoutine(name string, workfn func(<-chan struct{})) func() {
	log.Printf("Starting %s routine", name)
	closechan := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Routine %s panicked: %v\n%s", name, r, debug.Stack())
			}
		}()
		workfn(closechan)
	}()
	return sync.OnceFunc(func() {
		log.Printf("Shutting down %s routine", name)
		close(closechan)
		log.Printf("Waiting for routine %s to exit", name)
		wg.Wait()
		log.Printf("Routine %s done", name)
	})
}
